package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/urfave/cli/v2"
)

func fundraiserCommands() *cli.Command {
	return &cli.Command{
		Name:  "fundraiser",
		Usage: "Fundraiser commands",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Start a fundraiser for the keypair",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mint", Usage: "Mint of the raised tokens", Required: true},
					&cli.Uint64Flag{Name: "target", Usage: "Amount to raise, in base units", Required: true},
					&cli.UintFlag{Name: "days", Usage: "Duration in days", Value: 7},
				},
				Action: func(c *cli.Context) error {
					key, err := signer(c)
					if err != nil {
						return err
					}
					mint, err := parsePubkey(c.String("mint"), "mint")
					if err != nil {
						return err
					}
					days := c.Uint("days")
					if days > 255 {
						return fmt.Errorf("days must be at most 255")
					}
					if _, err := submit(c, nil, fundraiser.InitializeInstruction(
						key.PublicKey(), mint, c.Uint64("target"), time.Now().Unix(), uint8(days))); err != nil {
						return err
					}
					addr, _ := fundraiser.Address(key.PublicKey())
					fmt.Printf("  Fundraiser: %s\n", addr)
					return nil
				},
			},
			{
				Name:      "contribute",
				Usage:     "Contribute to a maker's fundraiser",
				ArgsUsage: "MAKER MINT AMOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires MAKER MINT AMOUNT")
					}
					key, err := signer(c)
					if err != nil {
						return err
					}
					maker, err := argPubkey(c, 0, "maker")
					if err != nil {
						return err
					}
					mint, err := argPubkey(c, 1, "mint")
					if err != nil {
						return err
					}
					amount, err := parseAmount(c.Args().Get(2))
					if err != nil {
						return err
					}
					_, err = submit(c, nil, fundraiser.ContributeInstruction(key.PublicKey(), maker, mint, amount))
					return err
				},
			},
			{
				Name:      "collect",
				Usage:     "Collect the vault once the target is met",
				ArgsUsage: "MINT",
				Action: func(c *cli.Context) error {
					key, err := signer(c)
					if err != nil {
						return err
					}
					mint, err := argPubkey(c, 0, "mint")
					if err != nil {
						return err
					}
					_, err = submit(c, nil, fundraiser.CheckContributionsInstruction(key.PublicKey(), mint))
					return err
				},
			},
			{
				Name:      "refund",
				Usage:     "Reclaim a contribution after a failed fundraiser ends",
				ArgsUsage: "MAKER MINT",
				Action: func(c *cli.Context) error {
					key, err := signer(c)
					if err != nil {
						return err
					}
					maker, err := argPubkey(c, 0, "maker")
					if err != nil {
						return err
					}
					mint, err := argPubkey(c, 1, "mint")
					if err != nil {
						return err
					}
					_, err = submit(c, nil, fundraiser.RefundInstruction(key.PublicKey(), maker, mint))
					return err
				},
			},
			{
				Name:      "show",
				Usage:     "Show a maker's fundraiser",
				ArgsUsage: "MAKER",
				Action: func(c *cli.Context) error {
					maker, err := argPubkey(c, 0, "maker")
					if err != nil {
						return err
					}
					addr, _ := fundraiser.Address(maker)
					view, err := newClient(c).GetFundraiser(context.Background(), addr)
					if err != nil {
						return fmt.Errorf("failed to get fundraiser: %w", err)
					}
					if c.Bool("json") {
						return printJSON(view)
					}
					f := view.Fundraiser
					started := time.Unix(int64(f.TimeStarted), 0)
					fmt.Printf("Fundraiser: %s\n", view.Address)
					fmt.Printf("Maker:      %s\n", f.Maker)
					fmt.Printf("Mint:       %s\n", f.Mint)
					fmt.Printf("Raised:     %d / %d\n", f.CurrentAmount, f.AmountToRaise)
					fmt.Printf("Vault:      %s (%d)\n", view.Vault, view.VaultBalance)
					fmt.Printf("Started:    %s\n", started.Format(time.RFC3339))
					fmt.Printf("Ends:       %s\n", started.Add(time.Duration(f.Duration)*24*time.Hour).Format(time.RFC3339))
					return nil
				},
			},
		},
	}
}
