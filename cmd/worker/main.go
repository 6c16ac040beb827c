package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/config"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	"github.com/brojonat/arbiter/service/reasoner"
	"github.com/brojonat/arbiter/service/temporal"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ensureOracleAttempts bounds how long the worker waits for the ledger at boot.
const ensureOracleAttempts = 10

const authorityAirdrop = 1_000_000_000

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"ledger_url", cfg.LedgerURL,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authority, err := cfg.ArbiterPrivateKey()
	if err != nil {
		logger.Error("invalid oracle authority", "error", err)
		os.Exit(1)
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// The worker reads and answers interactions through the ledger API
	ledgerClient := client.NewClient(cfg.LedgerURL, nil, logger)

	// On development ledgers the authority pays for itself from the faucet
	if cfg.FaucetEnabled {
		if _, err := ledgerClient.GetAccount(ctx, authority.PublicKey()); errors.Is(err, ledger.ErrAccountNotFound) {
			if err := ledgerClient.Airdrop(ctx, authority.PublicKey(), authorityAirdrop); err != nil {
				logger.Warn("failed to fund oracle authority", "error", err)
			}
		}
	}

	if err := ensureOracle(ctx, ledgerClient, authority, logger); err != nil {
		logger.Error("failed to ensure oracle", "error", err)
		os.Exit(1)
	}

	r := reasoner.New(cfg, logger)
	logger.Info("initialized reasoner", "remote", cfg.ReasonerURL != "", "model", cfg.ReasonerModel)

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporal.StartSweep(ctx, temporalClient, cfg.ArbiterSweepInterval, logger); err != nil {
		logger.Error("failed to start sweep", "error", err)
		os.Exit(1)
	}

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Ledger:            ledgerClient,
		Reasoner:          r,
		Authority:         authority,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"authority", authority.PublicKey().String(),
		"sweep_interval", cfg.ArbiterSweepInterval,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// ensureOracle initializes the oracle with the worker's authority, which also
// pays for it. The ledger may still be starting, so failures are retried.
func ensureOracle(ctx context.Context, b chain.Backend, authority solana.PrivateKey, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= ensureOracleAttempts; attempt++ {
		var created bool
		created, err = chain.EnsureOracle(ctx, b, authority, authority)
		if err == nil {
			logger.Info("oracle ready", "created", created, "authority", authority.PublicKey().String())
			return nil
		}
		if errors.Is(err, chain.ErrAuthorityMismatch) {
			return err
		}
		logger.Warn("oracle not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return err
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
