package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/config"
	"github.com/brojonat/arbiter/service/db"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate prepares a durable ledger: it applies the schema, then the genesis
// file if one is configured, then checks that every program account in the
// store still decodes.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting ledger migration")

	cfg := config.MustLoad()
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Connect to database
	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slot, err := store.Slot(ctx)
	if err != nil {
		logger.Error("failed to read slot", "error", err)
		os.Exit(1)
	}
	logger.Info("schema applied", "slot", slot)

	if cfg.GenesisFile != "" {
		genesis, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			logger.Error("failed to load genesis", "error", err)
			os.Exit(1)
		}
		l := chain.New(store, logger, chain.OptionsFromConfig(cfg, nil))
		if err := chain.ApplyGenesis(ctx, l, genesis, logger); err != nil {
			logger.Error("failed to apply genesis", "error", err)
			os.Exit(1)
		}
	}

	programs := []struct {
		name   string
		id     solana.PublicKey
		decode func([]byte) error
	}{
		{"escrow", escrow.ProgramID, func(data []byte) error {
			_, err := escrow.DecodeEscrow(data)
			return err
		}},
		{"fundraiser", fundraiser.ProgramID, decodeFundraiserAccount},
		{"oracle", oracle.ProgramID, decodeOracleAccount},
	}

	successCount := 0
	errorCount := 0
	for _, p := range programs {
		accounts, err := store.ListAccounts(ctx, p.id)
		if err != nil {
			logger.Error("failed to list accounts", "program", p.name, "error", err)
			os.Exit(1)
		}
		for _, acct := range accounts {
			if err := p.decode(acct.Data); err != nil {
				logger.Error("account does not decode",
					"program", p.name,
					"address", acct.Address.String(),
					"error", err,
				)
				errorCount++
				continue
			}
			successCount++
		}
		logger.Info("checked program accounts", "program", p.name, "count", len(accounts))
	}

	logger.Info("migration complete",
		"accounts", successCount+errorCount,
		"success", successCount,
		"errors", errorCount,
	)

	if errorCount > 0 {
		os.Exit(1)
	}
}

func decodeFundraiserAccount(data []byte) error {
	if _, err := fundraiser.DecodeFundraiser(data); err == nil {
		return nil
	}
	_, err := fundraiser.DecodeContributor(data)
	return err
}

func decodeOracleAccount(data []byte) error {
	if oracle.IsInteraction(data) {
		_, err := oracle.DecodeInteraction(data)
		return err
	}
	if _, err := oracle.DecodeContext(data); err == nil {
		return nil
	}
	if _, err := oracle.DecodeIdentity(data); err == nil {
		return nil
	}
	_, err := oracle.DecodeCounter(data)
	return err
}
