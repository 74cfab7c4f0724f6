package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/api"
	"github.com/c-answer-server/internal/config"
	"github.com/c-answer-server/internal/database"
	"github.com/c-answer-server/internal/domain"
	"github.com/c-answer-server/internal/report"
	"github.com/c-answer-server/internal/service"
	"github.com/c-answer-server/internal/shortlist"
	"github.com/c-answer-server/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// External collaborators
	registry := external.NewRegistryClient(external.RegistryConfig{
		BaseURL:   cfg.Registry.BaseURL,
		PageSize:  cfg.Registry.PageSize,
		Timeout:   cfg.Registry.Timeout,
		RateLimit: cfg.Registry.RateLimit,
	})

	postal, err := external.NewPostalClient(external.PostalConfig{
		BaseURL:   cfg.Postal.BaseURL,
		Country:   cfg.Postal.Country,
		Timeout:   cfg.Postal.Timeout,
		RateLimit: cfg.Postal.RateLimit,
		CacheSize: cfg.Postal.CacheSize,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create postal resolver")
	}

	if cfg.Oracle.APIKey == "" {
		logger.Warn("No oracle API key configured; eligibility analysis will degrade to error verdicts")
	}
	oracle := external.NewOracleClient(external.OracleConfig{
		BaseURL:   cfg.Oracle.BaseURL,
		APIKey:    cfg.Oracle.APIKey,
		Model:     cfg.Oracle.Model,
		Timeout:   cfg.Oracle.Timeout,
		RateLimit: cfg.Oracle.RateLimit,
	}, logger)

	var cache *external.CacheClient
	if cfg.Cache.Enabled {
		cache, err = external.NewCacheClient(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without the response cache")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	resilient := external.NewResilientClient(registry, postal, cache, logger)

	// Durable shortlist backend
	store, db := newShortlistStore(cfg, logger)
	if store != nil {
		defer store.Close()
	}
	if db != nil {
		defer db.Close()
	}

	// Workflow
	ranker := service.NewGeoRanker(resilient, logger)
	sessions := service.NewSessionManager(cfg.Session, logger)
	builder := report.NewPDFBuilder(logger)
	matcher := service.NewMatcher(resilient, oracle, ranker, sessions, store, builder, logger)

	server := api.NewServer(cfg, matcher, db, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger configures logrus from the logging config.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// newShortlistStore builds the configured shortlist backend. The memory
// driver returns nil: the in-session shortlist is then the only copy. The
// postgres driver runs migrations and keeps a pgx pool open for health
// checks alongside the store's own connection.
func newShortlistStore(cfg *domain.Config, logger *logrus.Logger) (shortlist.Store, *database.DB) {
	switch cfg.Shortlist.Driver {
	case "sqlite":
		store, err := shortlist.NewSQLiteStore(cfg.Shortlist.SQLitePath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open sqlite shortlist store")
		}
		logger.WithField("path", cfg.Shortlist.SQLitePath).Info("Shortlist store ready (sqlite)")
		return store, nil

	case "postgres":
		runner, err := database.NewMigrationRunner(cfg.Shortlist.PostgresURL, cfg.Shortlist.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		runner.Close()

		db, err := database.NewConnection(context.Background(), cfg.Shortlist.PostgresURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to postgres")
		}

		store, err := shortlist.NewPostgresStoreFromURL(cfg.Shortlist.PostgresURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open postgres shortlist store")
		}
		logger.Info("Shortlist store ready (postgres)")
		return store, db

	default:
		logger.Info("Shortlist store disabled (memory driver)")
		return nil, nil
	}
}
