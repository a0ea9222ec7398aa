// Package kv is the durable, string-keyed blob storage the sync layer keeps
// its pending queue and connection settings in. Values survive restarts.
package kv

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/database"
)

// Store is a persisted string map. Get reports ok=false for missing keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(afero.NewOsFs(), cfg.FilePath)
	case "sqlite":
		db, err := database.NewSQLite(ctx, cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, db)
	case "mysql":
		db, err := database.NewMySQL(ctx, config.DatabaseConnection{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, db)
	}
	return nil, &backend.ConfigurationError{Field: "local_storage.type", Reason: fmt.Sprintf("unknown type %q", cfg.Type)}
}
