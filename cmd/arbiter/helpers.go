package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// newClient builds a ledger API client from the global flags. The logger
// only reports errors so command output stays readable.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// loadKey reads a private key from a keygen JSON file or a base58 string.
func loadKey(value string) (solana.PrivateKey, error) {
	if value == "" {
		return nil, fmt.Errorf("a signing key is required (set ARBITER_KEYPAIR or use --keypair)")
	}
	if _, err := os.Stat(value); err == nil {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(value)
		if err != nil {
			return nil, fmt.Errorf("failed to read keypair file: %w", err)
		}
		return key, nil
	}
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("keypair is neither a file nor a base58 key: %w", err)
	}
	return key, nil
}

func signer(c *cli.Context) (solana.PrivateKey, error) {
	return loadKey(c.String("keypair"))
}

func parsePubkey(value, what string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", what)
	}
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", what, value, err)
	}
	return pk, nil
}

func argPubkey(c *cli.Context, index int, what string) (solana.PublicKey, error) {
	return parsePubkey(c.Args().Get(index), what)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// submit signs ixs with the command's keypair as fee payer and prints the
// receipt.
func submit(c *cli.Context, extra []solana.PrivateKey, ixs ...ledger.Instruction) (*ledger.Receipt, error) {
	key, err := signer(c)
	if err != nil {
		return nil, err
	}
	receipt, err := newClient(c).SignAndSubmit(context.Background(), key, extra, ixs...)
	if err != nil {
		return nil, describeError(err)
	}
	if c.Bool("json") {
		return receipt, printJSON(receipt)
	}
	fmt.Printf("✓ Transaction committed\n")
	fmt.Printf("  Signature: %s\n", receipt.Signature)
	fmt.Printf("  Slot:      %d\n", receipt.Slot)
	for _, event := range receipt.Events {
		fmt.Printf("  Event:     %s\n", event.Type)
	}
	return receipt, nil
}

// describeError adds the program error name and code to a failed transaction.
func describeError(err error) error {
	if code, ok := ledger.ErrorCode(err); ok {
		return fmt.Errorf("transaction failed (code %d): %w", code, err)
	}
	return fmt.Errorf("transaction failed: %w", err)
}
