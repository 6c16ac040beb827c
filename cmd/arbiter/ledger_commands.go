package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a new keypair",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the keypair as a keygen JSON file instead of printing the secret",
			},
		},
		Action: func(c *cli.Context) error {
			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}

			if out := c.String("out"); out != "" {
				secret := make([]int, len(key))
				for i, b := range key {
					secret[i] = int(b)
				}
				data, err := json.Marshal(secret)
				if err != nil {
					return fmt.Errorf("failed to encode keypair: %w", err)
				}
				if err := os.WriteFile(out, data, 0o600); err != nil {
					return fmt.Errorf("failed to write keypair: %w", err)
				}
				fmt.Printf("✓ Keypair written to %s\n", out)
				fmt.Printf("  Public key: %s\n", key.PublicKey())
				return nil
			}

			if c.Bool("json") {
				return printJSON(map[string]string{
					"public_key":  key.PublicKey().String(),
					"private_key": key.String(),
				})
			}
			fmt.Printf("Public key:  %s\n", key.PublicKey())
			fmt.Printf("Private key: %s\n", key)
			return nil
		},
	}
}

func airdropCommand() *cli.Command {
	return &cli.Command{
		Name:      "airdrop",
		Usage:     "Credit lamports from the faucet (development ledgers only)",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "lamports",
				Usage: "Lamports to credit",
				Value: 1_000_000_000,
			},
		},
		Action: func(c *cli.Context) error {
			addr, err := argPubkey(c, 0, "address")
			if err != nil {
				return err
			}
			lamports := c.Uint64("lamports")
			if err := newClient(c).Airdrop(context.Background(), addr, lamports); err != nil {
				return fmt.Errorf("airdrop failed: %w", err)
			}
			fmt.Printf("✓ Airdropped %.4f SOL to %s\n", float64(lamports)/1e9, addr)
			return nil
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:      "account",
		Usage:     "Show a raw ledger account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			addr, err := argPubkey(c, 0, "address")
			if err != nil {
				return err
			}
			acct, err := newClient(c).GetAccount(context.Background(), addr)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}
			if c.Bool("json") {
				return printJSON(acct)
			}
			fmt.Printf("Address:    %s\n", acct.Address)
			fmt.Printf("Owner:      %s\n", acct.Owner)
			fmt.Printf("Lamports:   %d\n", acct.Lamports)
			fmt.Printf("Data:       %d bytes\n", len(acct.Data))
			fmt.Printf("Executable: %v\n", acct.Executable)
			fmt.Printf("Version:    %d\n", acct.Version)
			return nil
		},
	}
}

func tokenCommands() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Token mint and balance commands",
		Subcommands: []*cli.Command{
			{
				Name:  "create-mint",
				Usage: "Create a mint with the keypair as mint authority",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "decimals", Value: 6, Usage: "Mint decimals"},
				},
				Action: func(c *cli.Context) error {
					key, err := signer(c)
					if err != nil {
						return err
					}
					decimals := c.Uint("decimals")
					if decimals > 18 {
						return fmt.Errorf("decimals must be at most 18")
					}
					mint, err := solana.NewRandomPrivateKey()
					if err != nil {
						return fmt.Errorf("failed to generate mint key: %w", err)
					}
					if _, err := submit(c, []solana.PrivateKey{mint},
						token.CreateMintInstructions(key.PublicKey(), mint.PublicKey(), key.PublicKey(), uint8(decimals))...); err != nil {
						return err
					}
					fmt.Printf("  Mint:      %s\n", mint.PublicKey())
					return nil
				},
			},
			{
				Name:      "mint-to",
				Usage:     "Mint tokens into the owner's associated token account",
				ArgsUsage: "MINT OWNER AMOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires MINT OWNER AMOUNT")
					}
					key, err := signer(c)
					if err != nil {
						return err
					}
					mint, err := argPubkey(c, 0, "mint")
					if err != nil {
						return err
					}
					owner, err := argPubkey(c, 1, "owner")
					if err != nil {
						return err
					}
					amount, err := parseAmount(c.Args().Get(2))
					if err != nil {
						return err
					}
					_, err = submit(c, nil,
						token.CreateAssociatedInstruction(key.PublicKey(), owner, mint, true),
						token.MintToInstruction(mint, token.MustAssociatedAddress(owner, mint), key.PublicKey(), amount))
					return err
				},
			},
			{
				Name:      "balance",
				Usage:     "Show the owner's associated token balance",
				ArgsUsage: "OWNER MINT",
				Action: func(c *cli.Context) error {
					owner, err := argPubkey(c, 0, "owner")
					if err != nil {
						return err
					}
					mint, err := argPubkey(c, 1, "mint")
					if err != nil {
						return err
					}
					acct, err := newClient(c).GetAccount(context.Background(), token.MustAssociatedAddress(owner, mint))
					if err != nil {
						return fmt.Errorf("failed to get token account: %w", err)
					}
					state, err := token.DecodeAccount(acct.Data)
					if err != nil {
						return err
					}
					fmt.Println(state.Amount)
					return nil
				},
			},
		},
	}
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}
