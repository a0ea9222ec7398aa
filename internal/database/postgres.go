package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/logger"
)

// OpenPostgres creates the cloud connection pool. Ping failures are returned
// together with the usable pool so the service can start while the cloud is
// unreachable and fall back to LAN mode.
func OpenPostgres(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("postgres connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.String("host", cfg.ConnConfig.Host),
	)

	return pool, pool.Ping(ctx)
}
