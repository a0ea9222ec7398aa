package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/database"
	"groundzero-sync-service/internal/logger"
)

// SQLStore keeps the audit trail in MySQL or SQLite.
type SQLStore struct {
	db *database.Database
}

var sqlSchemas = map[database.Dialect][]string{
	database.MySQL: {
		`CREATE TABLE IF NOT EXISTS conflict_events (
			id CHAR(36) NOT NULL PRIMARY KEY,
			table_name VARCHAR(64) NOT NULL,
			record_id VARCHAR(191) NOT NULL,
			local_data JSON NOT NULL,
			cloud_data JSON NOT NULL,
			resolution VARCHAR(32) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_conflict_events_table (table_name, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id CHAR(36) NOT NULL PRIMARY KEY,
			started_at DATETIME(6) NOT NULL,
			completed_at DATETIME(6) NULL,
			synced INT NOT NULL,
			conflicts INT NOT NULL,
			errors INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_message TEXT NULL
		)`,
	},
	database.SQLite: {
		`CREATE TABLE IF NOT EXISTS conflict_events (
			id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			record_id TEXT NOT NULL,
			local_data TEXT NOT NULL,
			cloud_data TEXT NOT NULL,
			resolution TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			synced INTEGER NOT NULL,
			conflicts INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT
		)`,
	},
}

// NewMySQLStore connects to the audit database, waiting for it to come up.
func NewMySQLStore(ctx context.Context, cfg config.DatabaseConnection) (*SQLStore, error) {
	var (
		db  *database.Database
		err error
	)

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		db, err = database.NewMySQL(ctx, cfg)
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for audit DB...", zap.Error(err), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect audit db after retries: %w", err)
	}

	return NewSQLStore(ctx, db)
}

// NewSQLStore creates the audit tables if needed.
func NewSQLStore(ctx context.Context, db *database.Database) (*SQLStore, error) {
	stmts, ok := sqlSchemas[db.Dialect]
	if !ok {
		return nil, fmt.Errorf("store: unsupported dialect %q", db.Dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: create schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	query := `INSERT INTO conflict_events (id, table_name, record_id, local_data, cloud_data, resolution, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
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

// ListConflicts returns the newest conflicts first. An empty table lists all.
func (s *SQLStore) ListConflicts(ctx context.Context, table string, limit, offset int) ([]*Conflict, error) {
	query := `SELECT id, table_name, record_id, local_data, cloud_data, resolution, created_at
			  FROM conflict_events WHERE (? = '' OR table_name = ?) ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, table, table, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conflicts := []*Conflict{}
	for rows.Next() {
		var (
			c            Conflict
			local, cloud []byte
		)
		err := rows.Scan(
			&c.ID,
			&c.TableName,
			&c.RecordID,
			&local,
			&cloud,
			&c.Resolution,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		c.LocalData, c.CloudData = local, cloud
		conflicts = append(conflicts, &c)
	}

	return conflicts, rows.Err()
}

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, synced, conflicts, errors, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
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

func (s *SQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, synced, conflicts, errors, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*SyncHistory{}
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.StartedAt,
			&h.CompletedAt,
			&h.Synced,
			&h.Conflicts,
			&h.Errors,
			&h.Status,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, &h)
	}

	return history, rows.Err()
}
