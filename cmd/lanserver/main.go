// Command lanserver is the on-site fallback server the sync service reads
// and writes while the cloud is unreachable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/database"
	"groundzero-sync-service/internal/lanserver"
	"groundzero-sync-service/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadLANServerConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting GroundZero LAN server")

	ctx := context.Background()
	db, err := database.NewMySQL(ctx, cfg.LANServer.Database)
	if err != nil {
		logger.Log.Fatal("Failed to connect to LAN database", zap.Error(err))
	}
	defer db.Close()

	hub := lanserver.NewHub()
	repo := lanserver.NewRepository(db, cfg.LANServer.Tables)

	// With binlog tailing every change is published from the log, including
	// this server's own writes.
	if cfg.LANServer.Binlog {
		listener, err := lanserver.NewBinlogListener(cfg.LANServer.Database, cfg.LANServer.ServerID, cfg.LANServer.Tables, hub.Broadcast)
		if err != nil {
			logger.Log.Fatal("Failed to init binlog listener", zap.Error(err))
		}
		if err := listener.Start(); err != nil {
			logger.Log.Fatal("Failed to start binlog listener", zap.Error(err))
		}
		defer listener.Stop()
	}

	srv := lanserver.NewServer(repo, hub, !cfg.LANServer.Binlog)
	serverAddr := fmt.Sprintf("%s:%d", cfg.LANServer.Host, cfg.LANServer.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: srv.Routes(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
