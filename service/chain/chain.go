// Package chain assembles the ledger with every program deployed and provides
// the bootstrap steps shared by the server, the worker, and the CLI.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/arbiter/service/config"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
)

// ErrAuthorityMismatch is returned by EnsureOracle when the oracle was already
// initialized with another authority.
var ErrAuthorityMismatch = errors.New("oracle initialized with a different authority")

// genesisFunding is credited to each mint authority so it can pay rent for the
// mint and the token accounts it seeds.
const genesisFunding = 1_000_000_000

// Options controls how the programs are deployed.
type Options struct {
	MockResolve        bool
	Faucet             bool
	MaxConflictRetries int
	Metrics            *metrics.Metrics
}

// OptionsFromConfig maps service configuration onto deployment options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		MockResolve:        cfg.EscrowMockResolve,
		Faucet:             cfg.FaucetEnabled,
		MaxConflictRetries: cfg.MaxConflictRetries,
		Metrics:            m,
	}
}

// New creates a ledger over store with the token, associated token, oracle,
// escrow, and fundraiser programs registered.
func New(store ledger.AccountStore, logger *slog.Logger, opts Options) *ledger.Ledger {
	var ledgerOpts []ledger.Option
	if opts.Faucet {
		ledgerOpts = append(ledgerOpts, ledger.WithFaucet())
	}
	if opts.MaxConflictRetries > 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithMaxConflictRetries(opts.MaxConflictRetries))
	}
	if opts.Metrics != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(opts.Metrics))
	}
	l := ledger.New(store, logger, ledgerOpts...)

	var escrowOpts []escrow.Option
	if opts.MockResolve {
		escrowOpts = append(escrowOpts, escrow.WithMockResolve())
	}
	l.Register(token.ProgramID, token.Program{})
	l.Register(token.AssociatedProgramID, token.AssociatedProgram{})
	l.Register(oracle.ProgramID, oracle.Program{})
	l.Register(escrow.ProgramID, escrow.NewProgram(escrowOpts...))
	l.Register(fundraiser.ProgramID, fundraiser.Program{})
	return l
}

// Backend is what the bootstrap helpers need from a ledger. Both *ledger.Ledger
// and the HTTP client satisfy it.
type Backend interface {
	GetAccount(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error)
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
}

// SignAndSubmit signs a transaction paid by feePayer and submits it.
func SignAndSubmit(ctx context.Context, b Backend, feePayer solana.PrivateKey, signers []solana.PrivateKey, ixs ...ledger.Instruction) (*ledger.Receipt, error) {
	tx := ledger.NewTransaction(feePayer.PublicKey(), ixs...)
	if err := tx.Sign(append([]solana.PrivateKey{feePayer}, signers...)...); err != nil {
		return nil, err
	}
	return b.Submit(ctx, tx)
}

// EnsureOracle initializes the oracle with authority unless it already is.
// It reports whether this call created it.
func EnsureOracle(ctx context.Context, b Backend, payer, authority solana.PrivateKey) (bool, error) {
	identity, err := currentIdentity(ctx, b)
	if err != nil {
		return false, err
	}
	if identity != nil {
		return false, checkAuthority(identity, authority.PublicKey())
	}

	_, err = SignAndSubmit(ctx, b, payer, []solana.PrivateKey{authority},
		oracle.InitializeInstruction(payer.PublicKey(), authority.PublicKey()))
	if err == nil {
		return true, nil
	}

	// Another process may have initialized it first.
	identity, lookupErr := currentIdentity(ctx, b)
	if lookupErr != nil || identity == nil {
		return false, fmt.Errorf("failed to initialize oracle: %w", err)
	}
	return false, checkAuthority(identity, authority.PublicKey())
}

func currentIdentity(ctx context.Context, b Backend) (*oracle.Identity, error) {
	addr, _ := oracle.IdentityAddress()
	acct, err := b.GetAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle identity: %w", err)
	}
	return oracle.DecodeIdentity(acct.Data)
}

func checkAuthority(identity *oracle.Identity, authority solana.PublicKey) error {
	if !identity.Authority.Equals(authority) {
		return fmt.Errorf("%w: have %s, want %s", ErrAuthorityMismatch, identity.Authority, authority)
	}
	return nil
}

// CreateContext creates the next oracle context and returns its address. A
// concurrent creation moves the counter, so a stale sequence is retried.
func CreateContext(ctx context.Context, b Backend, payer solana.PrivateKey, label string) (solana.PublicKey, error) {
	counterAddr, _ := oracle.CounterAddress()
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		acct, err := b.GetAccount(ctx, counterAddr)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return solana.PublicKey{}, oracle.ErrNotInitialized
		}
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("failed to read oracle counter: %w", err)
		}
		counter, err := oracle.DecodeCounter(acct.Data)
		if err != nil {
			return solana.PublicKey{}, err
		}

		_, err = SignAndSubmit(ctx, b, payer, nil, oracle.CreateContextInstruction(payer.PublicKey(), counter.Count, label))
		if err == nil {
			return oracle.ContextAddress(counter.Count), nil
		}
		if !errors.Is(err, oracle.ErrInvalidContext) && !errors.Is(err, ledger.ErrAccountAlreadyInUse) {
			return solana.PublicKey{}, fmt.Errorf("failed to create context: %w", err)
		}
		lastErr = err
	}
	return solana.PublicKey{}, fmt.Errorf("failed to create context: %w", lastErr)
}

// ApplyGenesis funds the listed accounts and creates the listed mints. Mints
// that already exist are skipped, so applying the same genesis to a durable
// store on every boot is safe.
func ApplyGenesis(ctx context.Context, l *ledger.Ledger, g *config.Genesis, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, a := range g.Airdrops {
		addr, err := solana.PublicKeyFromBase58(a.Address)
		if err != nil {
			return fmt.Errorf("invalid genesis address %q: %w", a.Address, err)
		}
		if _, err := l.GetAccount(ctx, addr); err == nil {
			continue
		}
		if err := l.Fund(ctx, addr, a.Lamports); err != nil {
			return fmt.Errorf("failed to fund %s: %w", addr, err)
		}
	}

	for _, m := range g.Mints {
		if err := applyMint(ctx, l, m); err != nil {
			return err
		}
	}

	logger.InfoContext(ctx, "genesis applied",
		"airdrops", len(g.Airdrops),
		"mints", len(g.Mints),
	)
	return nil
}

func applyMint(ctx context.Context, l *ledger.Ledger, m config.GenesisMint) error {
	mint, err := solana.PrivateKeyFromBase58(m.Key)
	if err != nil {
		return fmt.Errorf("invalid genesis mint key: %w", err)
	}
	authority, err := solana.PrivateKeyFromBase58(m.AuthorityKey)
	if err != nil {
		return fmt.Errorf("invalid genesis mint authority: %w", err)
	}
	if _, err := l.GetAccount(ctx, mint.PublicKey()); err == nil {
		return nil
	}

	if err := l.Fund(ctx, authority.PublicKey(), genesisFunding); err != nil {
		return fmt.Errorf("failed to fund mint authority: %w", err)
	}
	ixs := token.CreateMintInstructions(authority.PublicKey(), mint.PublicKey(), authority.PublicKey(), m.Decimals)
	for _, b := range m.Balances {
		owner, err := solana.PublicKeyFromBase58(b.Owner)
		if err != nil {
			return fmt.Errorf("invalid genesis owner %q: %w", b.Owner, err)
		}
		ixs = append(ixs,
			token.CreateAssociatedInstruction(authority.PublicKey(), owner, mint.PublicKey(), true),
			token.MintToInstruction(mint.PublicKey(), token.MustAssociatedAddress(owner, mint.PublicKey()), authority.PublicKey(), b.Amount),
		)
	}
	if _, err := SignAndSubmit(ctx, l, authority, []solana.PrivateKey{mint}, ixs...); err != nil {
		return fmt.Errorf("failed to create mint %s: %w", mint.PublicKey(), err)
	}
	return nil
}
