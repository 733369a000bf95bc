package main

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mosaic-consulting/repo-analytics/internal/aggregator"
	"github.com/mosaic-consulting/repo-analytics/internal/api"
	"github.com/mosaic-consulting/repo-analytics/internal/collector"
	"github.com/mosaic-consulting/repo-analytics/internal/config"
	"github.com/mosaic-consulting/repo-analytics/internal/storage"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/memory"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/postgres"
	"github.com/mosaic-consulting/repo-analytics/internal/storage/sqlite"
	"github.com/mosaic-consulting/repo-analytics/internal/syncer"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to initialize PostgreSQL storage", zap.Error(err))
		}
	case "memory":
		store = memory.NewMemoryStorage()
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("failed to initialize SQLite storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Wire the sync pipeline
	coll := collector.NewGitHubCollector(cfg.GitHubToken, logger)
	agg := aggregator.NewAggregator(store)
	sync := syncer.NewSyncer(store, coll, agg, logger, cfg.Orgs, cfg.SyncConcurrency)

	// Setup routes
	handler := api.NewHandler(store, sync, agg)
	router := api.SetupRoutes(handler, logger, cfg.APIToken)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info("starting API server",
		zap.String("addr", addr),
		zap.String("storage", cfg.StorageType),
		zap.Strings("orgs", cfg.Orgs))

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
