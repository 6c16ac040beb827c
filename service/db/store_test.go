package db

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, lamports uint64, data []byte) *ledger.Account {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &ledger.Account{
		Address:  key.PublicKey(),
		Owner:    solana.SystemProgramID,
		Lamports: lamports,
		Data:     data,
	}
}

func TestCommit_WriteAndRead(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	acct := newAccount(t, 1_000, []byte{1, 2, 3})
	sig := solana.Signature{7}

	slot, err := store.Commit(ctx, &ledger.Commit{
		Reads:   map[solana.PublicKey]uint64{acct.Address: 0},
		Writes:  []*ledger.Account{acct},
		Receipt: &ledger.Receipt{Signature: sig, Logs: []string{"hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), slot)

	t.Run("get account", func(t *testing.T) {
		got, err := store.GetAccount(ctx, acct.Address)
		require.NoError(t, err)
		assert.Equal(t, acct.Lamports, got.Lamports)
		assert.Equal(t, acct.Data, got.Data)
		assert.Equal(t, solana.SystemProgramID, got.Owner)
		assert.Equal(t, slot, got.Version)
	})

	t.Run("list by owner", func(t *testing.T) {
		accts, err := store.ListAccounts(ctx, solana.SystemProgramID)
		require.NoError(t, err)
		require.Len(t, accts, 1)
		assert.Equal(t, acct.Address, accts[0].Address)
	})

	t.Run("get receipt", func(t *testing.T) {
		r, err := store.GetReceipt(ctx, sig)
		require.NoError(t, err)
		assert.Equal(t, slot, r.Slot)
		assert.Equal(t, []string{"hello"}, r.Logs)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := store.GetAccount(ctx, solana.NewWallet().PublicKey())
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})

	t.Run("missing receipt", func(t *testing.T) {
		_, err := store.GetReceipt(ctx, solana.Signature{9})
		assert.ErrorIs(t, err, ledger.ErrReceiptNotFound)
	})

	t.Run("duplicate receipt", func(t *testing.T) {
		_, err := store.Commit(ctx, &ledger.Commit{Receipt: &ledger.Receipt{Signature: sig}})
		assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
	})
}

func TestCommit_StaleRead(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	acct := newAccount(t, 1_000, nil)
	_, err := store.Commit(ctx, &ledger.Commit{Writes: []*ledger.Account{acct}})
	require.NoError(t, err)

	// Act
	acct.Lamports = 2_000
	_, err = store.Commit(ctx, &ledger.Commit{
		Reads:  map[solana.PublicKey]uint64{acct.Address: 0},
		Writes: []*ledger.Account{acct},
	})

	// Assert
	assert.ErrorIs(t, err, ledger.ErrConflict)
	got, err := store.GetAccount(ctx, acct.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), got.Lamports)
}

func TestCommit_ZeroLamportsDeletes(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	acct := newAccount(t, 1_000, nil)
	slot, err := store.Commit(ctx, &ledger.Commit{Writes: []*ledger.Account{acct}})
	require.NoError(t, err)

	acct.Lamports = 0
	_, err = store.Commit(ctx, &ledger.Commit{
		Reads:  map[solana.PublicKey]uint64{acct.Address: slot},
		Writes: []*ledger.Account{acct},
	})
	require.NoError(t, err)

	_, err = store.GetAccount(ctx, acct.Address)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestCommit_ConcurrentWriters(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	acct := newAccount(t, 1_000, nil)
	slot, err := store.Commit(ctx, &ledger.Commit{Writes: []*ledger.Account{acct}})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := acct.Clone()
			w.Lamports = uint64(2_000 + i)
			_, err := store.Commit(ctx, &ledger.Commit{
				Reads:  map[solana.PublicKey]uint64{acct.Address: slot},
				Writes: []*ledger.Account{w},
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
}

func TestStore_LedgerAirdrop(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	l := chain.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), chain.Options{Faucet: true})
	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	authority, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, l.Airdrop(ctx, payer.PublicKey(), 1_000_000_000))

	created, err := chain.EnsureOracle(ctx, l, payer, authority)
	require.NoError(t, err)
	assert.True(t, created)

	slot, err := store.Slot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), slot)

	got, err := store.GetAccount(ctx, payer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, slot, got.Version)

	// A version moved outside the ledger makes the next read set stale.
	store.MustExec(t, `UPDATE accounts SET version = version + 100 WHERE address = $1`, payer.PublicKey().String())
	_, err = store.Commit(ctx, &ledger.Commit{
		Reads:  map[solana.PublicKey]uint64{payer.PublicKey(): slot},
		Writes: []*ledger.Account{got},
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}
