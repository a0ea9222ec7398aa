package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/api"
	"groundzero-sync-service/internal/cloud"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/dataaccess"
	"groundzero-sync-service/internal/database"
	"groundzero-sync-service/internal/kv"
	"groundzero-sync-service/internal/lan"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
	"groundzero-sync-service/internal/realtime"
	"groundzero-sync-service/internal/store"
	"groundzero-sync-service/internal/sync"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		defer logger.Sync()

		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	ctx := context.Background()
	logger.Log.Info("Starting GroundZero sync service")

	// Local state: pending queue and connection settings
	state, err := kv.Open(ctx, cfg.LocalStorage)
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}
	defer state.Close()

	pool, pingErr := database.OpenPostgres(ctx, cfg.Cloud.DatabaseURL, cfg.Cloud.MaxConns)
	if pool == nil {
		return fmt.Errorf("failed to configure cloud pool: %w", pingErr)
	}
	defer pool.Close()
	if pingErr != nil {
		logger.Log.Warn("Cloud unreachable at startup, starting in LAN mode", zap.Error(pingErr))
	}
	cloudClient := cloud.New(pool)

	ctrl, err := connection.NewController(ctx, state, connection.Options{
		DefaultLANEndpoint: cfg.LAN.DefaultEndpoint,
		InitialReachable:   pingErr == nil,
	})
	if err != nil {
		return fmt.Errorf("failed to init connection controller: %w", err)
	}
	lanClient := lan.New(ctrl, cfg.LAN.GetRequestTimeout())
	pending := queue.New(state)

	auditStore, err := openAuditStore(ctx, cfg, pool, ctrl)
	if err != nil {
		return fmt.Errorf("failed to init audit store: %w", err)
	}
	defer auditStore.Close()

	engine := sync.NewEngine(pending, cloudClient, auditStore,
		sync.LastWriteWins{TimestampColumn: cfg.Sync.TimestampColumn}, cfg.Sync.TimestampColumn)
	router := dataaccess.NewRouter(ctrl, cloudClient, lanClient, pending, dataaccess.Options{
		AuditWrites: cfg.Sync.AuditWrites,
		AuditActor:  cfg.Sync.AuditActor,
	})

	dist := realtime.NewDistributor(func() string {
		return lan.SocketURL(ctrl.LANEndpoint())
	}, cloudClient, cfg.Cloud.ChangeChannel)
	defer dist.Close()
	dist.SetMode(ctrl.Mode())
	removeDist := ctrl.OnTransition(func(t connection.Transition) {
		dist.SetMode(t.To)
	})
	defer removeDist()

	if cfg.Cloud.InstallChangeFeed && pingErr == nil {
		if err := cloudClient.InstallChangeFeed(ctx, cfg.Cloud.ChangeChannel, cfg.Sync.TableNames()); err != nil {
			logger.Log.Error("Failed to install change feed triggers", zap.Error(err))
		}
	}

	prober := connection.NewProber(ctrl, cloudClient.Ping, lanClient.Ping, cfg.Cloud.GetProbeTimeout())
	manager := sync.NewManager(ctrl, pending, engine, prober)
	manager.ReportSocket(dist)
	manager.Start()
	defer manager.Stop()

	scheduler := sync.NewScheduler(cfg.Scheduler, manager, prober)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	handler := api.NewHandler(cfg.Server, manager, ctrl, router, dist, auditStore)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr), zap.String("mode", string(ctrl.Mode())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	return nil
}

// openAuditStore returns the store conflict events and sync history go to.
// The cloud schema is created as soon as the cloud first answers.
func openAuditStore(ctx context.Context, cfg *config.Config, pool store.PgxDB, ctrl *connection.Controller) (store.Store, error) {
	if cfg.AuditStore.Type == "mysql" {
		return store.NewMySQLStore(ctx, cfg.AuditStore.MySQL)
	}

	pg := store.NewPostgresStore(pool)
	var ready atomic.Bool
	ensure := func() {
		if ready.Load() {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(sctx); err != nil {
			logger.Log.Error("Failed to create audit schema", zap.Error(err))
			return
		}
		ready.Store(true)
	}

	if ctrl.Mode().IsCloud() {
		ensure()
	}
	ctrl.OnTransition(func(t connection.Transition) {
		if t.To.IsCloud() {
			go ensure()
		}
	})
	return pg, nil
}
