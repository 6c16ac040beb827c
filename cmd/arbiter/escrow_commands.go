package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func escrowCommands() *cli.Command {
	return &cli.Command{
		Name:  "escrow",
		Usage: "Escrow commands",
		Subcommands: []*cli.Command{
			escrowMakeCommand(),
			escrowShowCommand(),
			escrowTakeCommand(),
			escrowRefundCommand(),
			escrowDisputeCommand(),
			escrowResolveMockCommand(),
			escrowAwaitCommand(),
		},
	}
}

func escrowMakeCommand() *cli.Command {
	return &cli.Command{
		Name:  "make",
		Usage: "Deposit mint A tokens into a new escrow, asking for mint B tokens in return",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mint-a", Usage: "Mint of the deposited tokens", Required: true},
			&cli.StringFlag{Name: "mint-b", Usage: "Mint of the requested tokens", Required: true},
			&cli.Uint64Flag{Name: "seed", Usage: "Seed distinguishing the maker's escrows", Value: uint64(time.Now().Unix())},
			&cli.Uint64Flag{Name: "deposit", Usage: "Amount of mint A to deposit", Required: true},
			&cli.Uint64Flag{Name: "receive", Usage: "Amount of mint B to receive", Required: true},
		},
		Action: func(c *cli.Context) error {
			key, err := signer(c)
			if err != nil {
				return err
			}
			mintA, err := parsePubkey(c.String("mint-a"), "mint-a")
			if err != nil {
				return err
			}
			mintB, err := parsePubkey(c.String("mint-b"), "mint-b")
			if err != nil {
				return err
			}
			seed := c.Uint64("seed")
			if _, err := submit(c, nil,
				escrow.MakeInstruction(key.PublicKey(), mintA, mintB, seed, c.Uint64("receive"), c.Uint64("deposit"))); err != nil {
				return err
			}
			addr, _ := escrow.Address(key.PublicKey(), seed)
			fmt.Printf("  Escrow:    %s\n", addr)
			fmt.Printf("  Seed:      %d\n", seed)
			return nil
		},
	}
}

func escrowShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show an escrow and its vault",
		ArgsUsage: "ESCROW",
		Action: func(c *cli.Context) error {
			view, err := loadEscrow(c)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(view)
			}
			printEscrow(view)
			return nil
		},
	}
}

func escrowTakeCommand() *cli.Command {
	return &cli.Command{
		Name:      "take",
		Usage:     "Pay the maker in mint B and receive the deposit",
		ArgsUsage: "ESCROW",
		Action: func(c *cli.Context) error {
			key, err := signer(c)
			if err != nil {
				return err
			}
			view, err := loadEscrow(c)
			if err != nil {
				return err
			}
			_, err = submit(c, nil, escrow.TakeInstruction(key.PublicKey(), view.Escrow))
			return err
		},
	}
}

func escrowRefundCommand() *cli.Command {
	return &cli.Command{
		Name:      "refund",
		Usage:     "Return the deposit to the maker and close the escrow",
		ArgsUsage: "ESCROW",
		Action: func(c *cli.Context) error {
			view, err := loadEscrow(c)
			if err != nil {
				return err
			}
			_, err = submit(c, nil, escrow.RefundInstruction(view.Escrow))
			return err
		},
	}
}

func escrowDisputeCommand() *cli.Command {
	return &cli.Command{
		Name:      "dispute",
		Usage:     "Ask the oracle to decide who receives the deposit",
		ArgsUsage: "ESCROW",
		Description: `Opens a dispute between the maker and a taker. The narrative is the prompt
the arbiter reasons about; it should name the party that ought to win.

A fresh oracle context is created with --label unless --context names an
unused one.

Example:
  arbiter escrow dispute <escrow> --taker <taker> \
    --label "Decide which party kept their promise." \
    --narrative "The maker never shipped; the taker paid."`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "taker", Usage: "Counterparty of the dispute", Required: true},
			&cli.StringFlag{Name: "narrative", Usage: "What happened, as the arbiter should read it", Required: true},
			&cli.StringFlag{Name: "context", Usage: "Existing unused oracle context"},
			&cli.StringFlag{Name: "label", Usage: "Instructions of a new oracle context", Value: "Decide whether the maker or the taker should receive the escrowed tokens."},
		},
		Action: func(c *cli.Context) error {
			key, err := signer(c)
			if err != nil {
				return err
			}
			view, err := loadEscrow(c)
			if err != nil {
				return err
			}
			taker, err := parsePubkey(c.String("taker"), "taker")
			if err != nil {
				return err
			}

			ctx := context.Background()
			var oracleContext solana.PublicKey
			if existing := c.String("context"); existing != "" {
				if oracleContext, err = parsePubkey(existing, "context"); err != nil {
					return err
				}
			} else {
				oracleContext, err = chain.CreateContext(ctx, newClient(c), key, c.String("label"))
				if err != nil {
					return fmt.Errorf("failed to create oracle context: %w", describeError(err))
				}
				fmt.Printf("✓ Created oracle context %s\n", oracleContext)
			}

			if _, err := submit(c, nil,
				escrow.OpenDisputeInstruction(key.PublicKey(), taker, oracleContext, view.Escrow, c.String("narrative"))); err != nil {
				return err
			}
			fmt.Printf("  Escrow:      %s\n", view.Address)
			return nil
		},
	}
}

func escrowResolveMockCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve-mock",
		Usage:     "Settle a dispute without the oracle (ledgers running with ESCROW_MOCK_RESOLVE only)",
		ArgsUsage: "ESCROW maker|taker",
		Action: func(c *cli.Context) error {
			key, err := signer(c)
			if err != nil {
				return err
			}
			view, err := loadEscrow(c)
			if err != nil {
				return err
			}
			decision, err := escrow.ParseDecision(c.Args().Get(1))
			if err != nil {
				return err
			}
			_, err = submit(c, nil, escrow.ResolveMockInstruction(key.PublicKey(), view.Escrow, decision))
			return err
		},
	}
}

func escrowAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the escrow is closed by a take, refund, or resolution",
		ArgsUsage: "ESCROW",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			addr, err := argPubkey(c, 0, "escrow address")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			fmt.Fprintf(os.Stderr, "Waiting for escrow %s to close...\n", addr)
			if err := newClient(c).AwaitAccountClosed(ctx, addr, client.DefaultPollInterval); err != nil {
				return fmt.Errorf("failed to await escrow: %w", err)
			}
			fmt.Printf("✓ Escrow %s closed\n", addr)
			return nil
		},
	}
}

func loadEscrow(c *cli.Context) (*client.EscrowView, error) {
	addr, err := argPubkey(c, 0, "escrow address")
	if err != nil {
		return nil, err
	}
	view, err := newClient(c).GetEscrow(context.Background(), addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return view, nil
}

func printEscrow(view *client.EscrowView) {
	e := view.Escrow
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Escrow:      %s\n", view.Address)
	fmt.Printf("Status:      %s\n", e.Status)
	fmt.Printf("Maker:       %s\n", e.Maker)
	if !e.Taker.IsZero() {
		fmt.Printf("Taker:       %s\n", e.Taker)
	}
	fmt.Printf("Deposit:     %d of %s\n", e.Deposit, e.MintA)
	fmt.Printf("Receive:     %d of %s\n", e.Receive, e.MintB)
	fmt.Printf("Vault:       %s (%d)\n", view.Vault, view.VaultBalance)
	if !e.Interaction.IsZero() {
		fmt.Printf("Interaction: %s\n", e.Interaction)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
