package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store is a durable ledger.AccountStore backed by Postgres.
// Commits serialize on the ledger_head row, which holds the current slot.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, ledger.ErrConflict) || errors.Is(err, ledger.ErrAccountNotFound) || errors.Is(err, ledger.ErrReceiptNotFound) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetAccount retrieves a committed account by address.
func (s *Store) GetAccount(ctx context.Context, addr solana.PublicKey) (acct *ledger.Account, err error) {
	defer func(start time.Time) { s.observe("get", "accounts", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx,
		`SELECT address, owner, lamports, data, executable, version FROM accounts WHERE address = $1`,
		addr.String())
	acct, err = scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// ListAccounts retrieves every account owned by owner, oldest write first.
func (s *Store) ListAccounts(ctx context.Context, owner solana.PublicKey) (out []*ledger.Account, err error) {
	defer func(start time.Time) { s.observe("list", "accounts", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT address, owner, lamports, data, executable, version FROM accounts WHERE owner = $1 ORDER BY version`,
		owner.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// GetReceipt retrieves the receipt of a committed transaction.
func (s *Store) GetReceipt(ctx context.Context, sig solana.Signature) (receipt *ledger.Receipt, err error) {
	defer func(start time.Time) { s.observe("get", "receipts", start, err) }(time.Now())

	var body []byte
	err = s.pool.QueryRow(ctx, `SELECT body FROM receipts WHERE signature = $1`, sig.String()).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	var r ledger.Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	return &r, nil
}

// Commit applies c in one SQL transaction. Every read version is checked
// against the stored row; any difference rejects the commit with ErrConflict.
func (s *Store) Commit(ctx context.Context, c *ledger.Commit) (committed uint64, err error) {
	defer func(start time.Time) { s.observe("commit", "accounts", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var slot int64
	if err := tx.QueryRow(ctx, `SELECT slot FROM ledger_head WHERE id FOR UPDATE`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("failed to lock ledger head: %w", err)
	}

	hasReceipt := c.Receipt != nil && c.Receipt.Signature != (solana.Signature{})
	if hasReceipt {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE signature = $1)`,
			c.Receipt.Signature.String()).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("failed to check receipt: %w", err)
		}
		if exists {
			return 0, ledger.ErrDuplicateTransaction
		}
	}

	for addr, want := range c.Reads {
		var version int64
		err := tx.QueryRow(ctx, `SELECT version FROM accounts WHERE address = $1`, addr.String()).Scan(&version)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("failed to read version of %s: %w", addr, err)
		}
		if uint64(version) != want {
			return 0, ledger.ErrConflict
		}
	}

	slot++
	for _, w := range c.Writes {
		if w.Lamports == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, w.Address.String()); err != nil {
				return 0, fmt.Errorf("failed to delete account %s: %w", w.Address, err)
			}
			continue
		}
		data := w.Data
		if data == nil {
			data = []byte{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (address, owner, lamports, data, executable, version)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address) DO UPDATE SET
				owner = EXCLUDED.owner,
				lamports = EXCLUDED.lamports,
				data = EXCLUDED.data,
				executable = EXCLUDED.executable,
				version = EXCLUDED.version,
				updated_at = NOW()`,
			w.Address.String(), w.Owner.String(), int64(w.Lamports), data, w.Executable, slot)
		if err != nil {
			return 0, fmt.Errorf("failed to write account %s: %w", w.Address, err)
		}
	}

	if hasReceipt {
		r := *c.Receipt
		r.Slot = uint64(slot)
		body, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to encode receipt: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO receipts (signature, slot, body) VALUES ($1, $2, $3)`,
			r.Signature.String(), slot, body); err != nil {
			return 0, fmt.Errorf("failed to insert receipt: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE ledger_head SET slot = $1 WHERE id`, slot); err != nil {
		return 0, fmt.Errorf("failed to advance slot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return uint64(slot), nil
}

// Slot returns the slot of the latest commit.
func (s *Store) Slot(ctx context.Context) (uint64, error) {
	var slot int64
	if err := s.pool.QueryRow(ctx, `SELECT slot FROM ledger_head WHERE id`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("failed to read slot: %w", err)
	}
	return uint64(slot), nil
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		address, owner    string
		lamports, version int64
		data              []byte
		executable        bool
	)
	if err := row.Scan(&address, &owner, &lamports, &data, &executable, &version); err != nil {
		return nil, err
	}
	addr, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid stored address %q: %w", address, err)
	}
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid stored owner %q: %w", owner, err)
	}
	return &ledger.Account{
		Address:    addr,
		Owner:      ownerKey,
		Lamports:   uint64(lamports),
		Data:       data,
		Executable: executable,
		Version:    uint64(version),
	}, nil
}
