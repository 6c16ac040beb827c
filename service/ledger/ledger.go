package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/arbiter/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// ErrFaucetDisabled is returned by Airdrop when the faucet is not enabled.
var ErrFaucetDisabled = errors.New("faucet is disabled")

// DefaultMaxConflictRetries is how many times a transaction is re-executed
// after its commit is rejected for stale reads.
const DefaultMaxConflictRetries = 3

// Ledger executes signed transactions against programs and commits their
// effects to an AccountStore atomically.
type Ledger struct {
	store              AccountStore
	programs           map[solana.PublicKey]Program
	logger             *slog.Logger
	metrics            *metrics.Metrics
	nowFn              func() time.Time
	maxConflictRetries int
	faucet             bool
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithMaxConflictRetries(n int) Option {
	return func(l *Ledger) { l.maxConflictRetries = n }
}

// WithFaucet enables Airdrop.
func WithFaucet() Option {
	return func(l *Ledger) { l.faucet = true }
}

// New creates a ledger over store with the system program registered.
func New(store AccountStore, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:              store,
		programs:           make(map[solana.PublicKey]Program),
		logger:             logger,
		nowFn:              time.Now,
		maxConflictRetries: DefaultMaxConflictRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Register(solana.SystemProgramID, SystemProgram{})
	return l
}

// Register deploys p at id.
func (l *Ledger) Register(id solana.PublicKey, p Program) {
	l.programs[id] = p
}

// SetNowFunc overrides the ledger clock.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	l.nowFn = fn
}

func (l *Ledger) now() time.Time {
	return l.nowFn().UTC()
}

// ProgramName returns the registered name of a program id.
func (l *Ledger) ProgramName(id solana.PublicKey) string {
	if p, ok := l.programs[id]; ok {
		return p.Name()
	}
	return "unknown"
}

// Submit verifies, executes, and commits tx. Every instruction applies or none do.
// When the commit is rejected because an account read by tx changed meanwhile,
// tx is executed again against the new state, up to the configured retry count.
// On failure the returned receipt, when non-nil, carries the program logs.
func (l *Ledger) Submit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	start := time.Now()
	program := "none"
	if len(tx.Message.Instructions) > 0 {
		program = l.ProgramName(tx.Message.Instructions[0].ProgramID)
	}

	receipt, err := l.submit(ctx, tx)

	if l.metrics != nil {
		status := "success"
		if err != nil {
			status = errorStatus(err)
		}
		l.metrics.RecordTransaction(program, status, time.Since(start).Seconds())
	}
	return receipt, err
}

func (l *Ledger) submit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	sig := tx.ID()
	if _, err := l.store.GetReceipt(ctx, sig); err == nil {
		return nil, ErrDuplicateTransaction
	} else if !errors.Is(err, ErrReceiptNotFound) {
		return nil, fmt.Errorf("failed to check receipt: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= l.maxConflictRetries; attempt++ {
		exec := newExecution(ctx, l)
		receipt := &Receipt{Signature: sig, Time: exec.now}

		for i, ix := range tx.Message.Instructions {
			if err := exec.invoke(nil, ix, nil); err != nil {
				receipt.Logs = exec.logs
				receipt.Err = err.Error()
				if code, ok := ErrorCode(err); ok {
					receipt.ErrCode = &code
				}
				l.logger.DebugContext(ctx, "transaction failed",
					"signature", sig.String(),
					"instruction", i,
					"program", l.ProgramName(ix.ProgramID),
					"error", err,
				)
				return receipt, &TransactionError{Instruction: i, Err: err}
			}
		}

		writes := exec.changes()
		receipt.Logs = exec.logs
		receipt.Events = exec.events
		for _, w := range writes {
			receipt.Accounts = append(receipt.Accounts, w.Address)
		}

		slot, err := l.store.Commit(ctx, &Commit{Reads: exec.reads, Writes: writes, Receipt: receipt})
		if errors.Is(err, ErrConflict) {
			lastErr = err
			if l.metrics != nil {
				l.metrics.RecordConflict()
			}
			l.logger.DebugContext(ctx, "commit conflict, re-executing",
				"signature", sig.String(),
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		receipt.Slot = slot
		if l.metrics != nil {
			types := make([]string, len(receipt.Events))
			for i, e := range receipt.Events {
				types[i] = e.Type
			}
			l.metrics.RecordCommit(slot, types)
		}
		l.logger.DebugContext(ctx, "transaction committed",
			"signature", sig.String(),
			"slot", slot,
			"accounts_written", len(writes),
			"events", len(receipt.Events),
		)
		return receipt, nil
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", l.maxConflictRetries+1, lastErr)
}

// Airdrop credits lamports to a system account. It exists for development
// networks and tests.
func (l *Ledger) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	if !l.faucet {
		return ErrFaucetDisabled
	}
	return l.Fund(ctx, to, lamports)
}

// Fund credits lamports to a system account regardless of the faucet setting.
// Genesis uses it at boot.
func (l *Ledger) Fund(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	for attempt := 0; attempt <= l.maxConflictRetries; attempt++ {
		acct, err := l.store.GetAccount(ctx, to)
		var version uint64
		switch {
		case err == nil:
			version = acct.Version
		case isNotFound(err):
			acct = emptyAccount(to)
		default:
			return fmt.Errorf("failed to load %s: %w", to, err)
		}
		if !acct.Owner.Equals(solana.SystemProgramID) {
			return fmt.Errorf("%w: %s is owned by %s", ErrIllegalOwner, to, acct.Owner)
		}
		if acct.Lamports+lamports < acct.Lamports {
			return ErrArithmeticOverflow
		}
		acct.Lamports += lamports

		_, err = l.store.Commit(ctx, &Commit{
			Reads:  map[solana.PublicKey]uint64{to: version},
			Writes: []*Account{acct},
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to commit airdrop: %w", err)
		}
		l.logger.DebugContext(ctx, "funded account", "to", to.String(), "lamports", lamports)
		return nil
	}
	return ErrConflict
}

// GetAccount returns a committed account, or ErrAccountNotFound when it does not exist.
func (l *Ledger) GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	return l.store.GetAccount(ctx, addr)
}

// ListAccounts returns every account owned by owner.
func (l *Ledger) ListAccounts(ctx context.Context, owner solana.PublicKey) ([]*Account, error) {
	return l.store.ListAccounts(ctx, owner)
}

func (l *Ledger) GetReceipt(ctx context.Context, sig solana.Signature) (*Receipt, error) {
	return l.store.GetReceipt(ctx, sig)
}

func errorStatus(err error) string {
	var pe *ProgramError
	switch {
	case errors.As(err, &pe):
		return "program_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrMissingSignature), errors.Is(err, ErrInvalidSignature):
		return "unauthorized"
	default:
		return "error"
	}
}
