package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxDB is the slice of *pgxpool.Pool the postgres store uses.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore writes the audit trail next to the business tables in the
// cloud database, where the dashboard can read it.
type PostgresStore struct {
	db PgxDB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS conflict_events (
	id UUID PRIMARY KEY,
	table_name TEXT NOT NULL,
	record_id TEXT NOT NULL,
	local_data JSONB NOT NULL,
	cloud_data JSONB NOT NULL,
	resolution TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conflict_events_table ON conflict_events (table_name, created_at DESC);
CREATE TABLE IF NOT EXISTS sync_history (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	synced INT NOT NULL,
	conflicts INT NOT NULL,
	errors INT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT
);`

func NewPostgresStore(db PgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit tables if needed. It needs the cloud to be
// reachable, so callers run it when the cloud first answers.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the cloud client.
func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	query := `INSERT INTO conflict_events (id, table_name, record_id, local_data, cloud_data, resolution, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		conflict.ID,
		conflict.TableName,
		conflict.RecordID,
		string(conflict.LocalData),
		string(conflict.CloudData),
		conflict.Resolution,
		conflict.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conflict: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, table string, limit, offset int) ([]*Conflict, error) {
	query := `SELECT id::text, table_name, record_id, local_data::text, cloud_data::text, resolution, created_at
			  FROM conflict_events WHERE ($1 = '' OR table_name = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, table, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conflicts := []*Conflict{}
	for rows.Next() {
		var (
			c            Conflict
			local, cloud string
		)
		if err := rows.Scan(&c.ID, &c.TableName, &c.RecordID, &local, &cloud, &c.Resolution, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.LocalData, c.CloudData = []byte(local), []byte(cloud)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

func (s *PostgresStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, synced, conflicts, errors, status, error_message)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		history.ID,
		history.StartedAt,
		history.CompletedAt,
		history.Synced,
		history.Conflicts,
		history.Errors,
		history.Status,
		history.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("create sync history: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id::text, started_at, completed_at, synced, conflicts, errors, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*SyncHistory{}
	for rows.Next() {
		var h SyncHistory
		if err := rows.Scan(&h.ID, &h.StartedAt, &h.CompletedAt, &h.Synced, &h.Conflicts, &h.Errors, &h.Status, &h.ErrorMessage); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}
