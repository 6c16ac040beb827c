package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration. Empty means the in-memory store.
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Ledger configuration
	LedgerURL          string
	FaucetEnabled      bool
	EscrowMockResolve  bool
	MaxConflictRetries int
	GenesisFile        string

	// Arbiter configuration
	ArbiterKey           string
	ArbiterSweepInterval time.Duration

	// Reasoner configuration
	ReasonerURL     string
	ReasonerAPIKey  string
	ReasonerModel   string
	ReasonerTimeout time.Duration
}

// Load reads configuration from environment variables and validates it.
// Returns an error listing every invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "arbiter")

	// Ledger configuration
	cfg.LedgerURL = getEnvOrDefault("LEDGER_URL", "http://localhost:8080")
	cfg.GenesisFile = os.Getenv("GENESIS_FILE")

	var err error
	if cfg.FaucetEnabled, err = parseBool("FAUCET_ENABLED", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.EscrowMockResolve, err = parseBool("ESCROW_MOCK_RESOLVE", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxConflictRetries, err = parseInt("MAX_CONFLICT_RETRIES", 3); err != nil {
		errs = append(errs, err)
	}

	// Arbiter configuration
	cfg.ArbiterKey = os.Getenv("ARBITER_KEY")
	if cfg.ArbiterSweepInterval, err = parseDuration("ARBITER_SWEEP_INTERVAL", "30s"); err != nil {
		errs = append(errs, err)
	}

	// Reasoner configuration
	cfg.ReasonerURL = os.Getenv("REASONER_URL")
	cfg.ReasonerAPIKey = os.Getenv("REASONER_API_KEY")
	cfg.ReasonerModel = getEnvOrDefault("REASONER_MODEL", "gpt-4o-mini")
	if cfg.ReasonerTimeout, err = parseDuration("REASONER_TIMEOUT", "60s"); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}
	if c.MaxConflictRetries < 0 {
		errs = append(errs, fmt.Errorf("MaxConflictRetries cannot be negative"))
	}
	if c.ArbiterSweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("ArbiterSweepInterval must be at least 1 second"))
	}
	if c.ReasonerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ReasonerTimeout must be positive"))
	}
	if c.ArbiterKey != "" {
		if _, err := solana.PrivateKeyFromBase58(c.ArbiterKey); err != nil {
			errs = append(errs, fmt.Errorf("ARBITER_KEY is not a base58 private key: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ArbiterPrivateKey returns the oracle authority key. Only the worker and the
// operator CLI need it.
func (c *Config) ArbiterPrivateKey() (solana.PrivateKey, error) {
	if c.ArbiterKey == "" {
		return nil, fmt.Errorf("ARBITER_KEY is required")
	}
	key, err := solana.PrivateKeyFromBase58(c.ArbiterKey)
	if err != nil {
		return nil, fmt.Errorf("ARBITER_KEY is not a base58 private key: %w", err)
	}
	return key, nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
