package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/logger"
)

// Dialect names the SQL flavour behind a Database.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite3"
)

type Database struct {
	DB      *sql.DB
	Dialect Dialect
}

// MySQLDSN builds a go-sql-driver DSN for cfg.
func MySQLDSN(cfg config.DatabaseConnection) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

func NewMySQL(ctx context.Context, cfg config.DatabaseConnection) (*Database, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &Database{DB: db, Dialect: MySQL}, nil
}

// NewSQLite opens (creating if needed) the SQLite file at path.
func NewSQLite(ctx context.Context, path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite %s: %w", path, err)
	}

	logger.Log.Info("Opened sqlite database", zap.String("path", path))
	return &Database{DB: db, Dialect: SQLite}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
