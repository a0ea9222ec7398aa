package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"groundzero-sync-service/internal/database"
)

// SQLStore keeps keys in a kv_store table of a SQLite or MySQL database.
type SQLStore struct {
	db     *database.Database
	upsert string
}

var schemas = map[database.Dialect]string{
	database.SQLite: `CREATE TABLE IF NOT EXISTS kv_store (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	database.MySQL: `CREATE TABLE IF NOT EXISTS kv_store (
		k VARCHAR(191) NOT NULL PRIMARY KEY,
		v LONGTEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
}

var upserts = map[database.Dialect]string{
	database.SQLite: `INSERT INTO kv_store (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP`,
	database.MySQL: `INSERT INTO kv_store (k, v) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE v = VALUES(v)`,
}

func NewSQLStore(ctx context.Context, db *database.Database) (*SQLStore, error) {
	schema, ok := schemas[db.Dialect]
	if !ok {
		return nil, fmt.Errorf("kv: unsupported dialect %q", db.Dialect)
	}
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("kv: create schema: %w", err)
	}
	return &SQLStore{db: db, upsert: upserts[db.Dialect]}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.DB.QueryRowContext(ctx, `SELECT v FROM kv_store WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.DB.ExecContext(ctx, s.upsert, key, value)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM kv_store WHERE k = ?`, key)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
