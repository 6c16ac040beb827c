package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "arbiter",
		Usage: "Escrow, fundraiser, and oracle arbitration CLI",
		Description: `A command-line tool for the arbiter ledger.

Use this CLI to open and settle escrows, run fundraisers, inspect oracle
interactions, and manage the arbitration schedule.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			keygenCommand(),
			airdropCommand(),
			accountCommand(),
			tokenCommands(),
			escrowCommands(),
			fundraiserCommands(),
			oracleCommands(),
			// Temporal inspection and management commands
			{
				Name:  "temporal",
				Usage: "Temporal arbitration and schedule commands",
				Subcommands: []*cli.Command{
					arbitrateCommand(),
					ensureScheduleCommand(),
					describeScheduleCommand(),
					pauseScheduleCommand(),
					resumeScheduleCommand(),
					deleteScheduleCommand(),
				},
			},
			eventsCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Ledger API URL",
				EnvVars: []string{"SERVER_URL", "LEDGER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Signing key: a keygen JSON file or a base58 private key",
				EnvVars: []string{"ARBITER_KEYPAIR"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the arbiter worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "arbiter",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
