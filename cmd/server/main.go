package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/config"
	"github.com/brojonat/arbiter/service/db"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	natspkg "github.com/brojonat/arbiter/service/nats"
	"github.com/brojonat/arbiter/service/server"
	"github.com/brojonat/arbiter/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"faucet", cfg.FaucetEnabled,
		"escrow_mock_resolve", cfg.EscrowMockResolve,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Account store: Postgres when configured, otherwise in memory
	var store ledger.AccountStore
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		pgStore := db.NewStore(dbPool).WithMetrics(metricsCollector)
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		store = pgStore
		logger.Info("connected to database")
	} else {
		store = ledger.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, ledger state is kept in memory")
	}

	l := chain.New(store, logger, chain.OptionsFromConfig(cfg, metricsCollector))

	if cfg.GenesisFile != "" {
		genesis, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			logger.Error("failed to load genesis", "error", err)
			os.Exit(1)
		}
		if err := chain.ApplyGenesis(ctx, l, genesis, logger); err != nil {
			logger.Error("failed to apply genesis", "error", err)
			os.Exit(1)
		}
	}

	// NATS is optional: without it committed events are not published
	var publisher natspkg.Publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("NATS unavailable, events will not be published", "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher.WithMetrics(metricsCollector)
	}

	var ssePublisher *server.SSEPublisher
	if publisher != nil {
		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Warn("failed to create SSE publisher", "error", err)
			ssePublisher = nil
		} else {
			defer ssePublisher.Close()
		}
	}

	// Temporal is optional: without it arbitration waits for the worker's sweep
	var arbitrator server.Arbitrator
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, arbitrate endpoint disabled", "error", err)
	} else {
		defer temporalClient.Close()
		arbitrator = temporalClient
	}

	httpServer := server.New(cfg.ServerAddr, cfg, l, publisher, arbitrator, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"durable", cfg.DatabaseURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
