package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noteProgramID = solana.MustPublicKeyFromBase58("8cCWwrHTFe5V8xDxXZEkrfUquoq3bWUhukEyjPexbJ7y")

var errNoteRejected = NewProgramError(42, "Rejected", "note rejected")

// noteProgram is a minimal program used to exercise the runtime rules.
type noteProgram struct{}

func (noteProgram) Name() string { return "note" }

func (noteProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	switch data[0] {
	case 0: // write
		accounts[0].SetData(data[1:])
		return nil
	case 1: // create PDA ["note", payer] then write
		payer, note := accounts[0], accounts[1]
		_, bump, err := DeriveAddress(ic.ProgramID(), []byte("note"), payer.Key.Bytes())
		if err != nil {
			return err
		}
		space := len(data) - 1
		create := CreateAccountInstruction(payer.Key, note.Key, MinimumBalance(space), uint64(space), ic.ProgramID())
		if err := ic.Invoke(create, [][]byte{[]byte("note"), payer.Key.Bytes(), {bump}}); err != nil {
			return err
		}
		note.SetData(data[1:])
		ic.Emit("note.created", map[string]string{"note": note.Key.String()})
		return nil
	case 2: // fail
		return errNoteRejected
	case 3: // steal lamports
		accounts[0].SetLamports(accounts[0].Lamports() - 1)
		accounts[1].SetLamports(accounts[1].Lamports() + 1)
		return nil
	case 4: // sign for a key it cannot derive
		return ic.Invoke(TransferInstruction(accounts[0].Key, accounts[1].Key, 1))
	}
	return ErrInvalidInstructionData
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(NewMemoryStore(), logger, WithFaucet())
	l.Register(noteProgramID, noteProgram{})
	return l
}

func newFundedKey(t *testing.T, l *Ledger, lamports uint64) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	require.NoError(t, l.Airdrop(context.Background(), key.PublicKey(), lamports))
	return key
}

func submit(t *testing.T, l *Ledger, payer solana.PrivateKey, ixs ...Instruction) (*Receipt, error) {
	t.Helper()
	tx := NewTransaction(payer.PublicKey(), ixs...)
	require.NoError(t, tx.Sign(payer))
	return l.Submit(context.Background(), tx)
}

func balance(t *testing.T, l *Ledger, addr solana.PublicKey) uint64 {
	t.Helper()
	acct, err := l.GetAccount(context.Background(), addr)
	if errors.Is(err, ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acct.Lamports
}

func TestTransaction_SignAndVerify(t *testing.T) {
	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	ix := Instruction{
		ProgramID: noteProgramID,
		Accounts:  []AccountMeta{Meta(other.PublicKey(), true, false)},
		Data:      []byte{0},
	}

	t.Run("all signers", func(t *testing.T) {
		tx := NewTransaction(payer.PublicKey(), ix)
		require.NoError(t, tx.Sign(payer, other))
		assert.NoError(t, tx.Verify())
		assert.Equal(t, tx.Signatures[0], tx.ID())
		assert.Equal(t, []solana.PublicKey{payer.PublicKey(), other.PublicKey()}, tx.Message.Signers())
	})

	t.Run("missing key", func(t *testing.T) {
		tx := NewTransaction(payer.PublicKey(), ix)
		err := tx.Sign(payer)
		assert.ErrorIs(t, err, ErrMissingSignature)
	})

	t.Run("tampered message", func(t *testing.T) {
		tx := NewTransaction(payer.PublicKey(), ix)
		require.NoError(t, tx.Sign(payer, other))
		tx.Message.Nonce++
		assert.ErrorIs(t, tx.Verify(), ErrInvalidSignature)
	})

	t.Run("no instructions", func(t *testing.T) {
		tx := NewTransaction(payer.PublicKey())
		require.NoError(t, tx.Sign(payer))
		assert.ErrorIs(t, tx.Verify(), ErrEmptyTransaction)
	})
}

func TestSubmit_SystemTransfer(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000_000)
	bob := solana.NewWallet().PublicKey()

	receipt, err := submit(t, l, alice, TransferInstruction(alice.PublicKey(), bob, 250_000))

	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.NotZero(t, receipt.Slot)
	assert.Equal(t, uint64(750_000), balance(t, l, alice.PublicKey()))
	assert.Equal(t, uint64(250_000), balance(t, l, bob))

	stored, err := l.GetReceipt(context.Background(), receipt.Signature)
	require.NoError(t, err)
	assert.Equal(t, receipt.Slot, stored.Slot)
}

func TestSubmit_InsufficientLamports(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 100)

	_, err := submit(t, l, alice, TransferInstruction(alice.PublicKey(), solana.NewWallet().PublicKey(), 101))

	assert.ErrorIs(t, err, ErrInsufficientLamports)
	assert.Equal(t, uint64(100), balance(t, l, alice.PublicKey()))
}

func TestSubmit_AtomicOnFailure(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000_000)
	bob := solana.NewWallet().PublicKey()

	receipt, err := submit(t, l, alice,
		TransferInstruction(alice.PublicKey(), bob, 500),
		Instruction{ProgramID: noteProgramID, Data: []byte{2}},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, errNoteRejected)
	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, 1, txErr.Instruction)
	require.NotNil(t, receipt)
	require.NotNil(t, receipt.ErrCode)
	assert.Equal(t, uint32(42), *receipt.ErrCode)

	assert.Equal(t, uint64(1_000_000), balance(t, l, alice.PublicKey()))
	assert.Equal(t, uint64(0), balance(t, l, bob))
}

func TestSubmit_CreatePDAViaInvoke(t *testing.T) {
	l := newTestLedger(t)
	payer := newFundedKey(t, l, 10_000_000)
	note, _, err := DeriveAddress(noteProgramID, []byte("note"), payer.PublicKey().Bytes())
	require.NoError(t, err)

	ix := Instruction{
		ProgramID: noteProgramID,
		Accounts: []AccountMeta{
			Meta(payer.PublicKey(), true, true),
			Meta(note, false, true),
			Meta(solana.SystemProgramID, false, false),
		},
		Data: []byte{1, 'h', 'i'},
	}

	receipt, err := submit(t, l, payer, ix)
	require.NoError(t, err)
	require.Len(t, receipt.EventsOfType("note.created"), 1)

	acct, err := l.GetAccount(context.Background(), note)
	require.NoError(t, err)
	assert.Equal(t, noteProgramID, acct.Owner)
	assert.Equal(t, []byte("hi"), acct.Data)
	assert.Equal(t, MinimumBalance(2), acct.Lamports)

	t.Run("second create is rejected as already in use", func(t *testing.T) {
		ix.Data = []byte{1, 'y', 'o'}
		_, err := submit(t, l, payer, ix)
		assert.ErrorIs(t, err, ErrAccountAlreadyInUse)
	})
}

func TestSubmit_RejectsExternalModification(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000)
	bob := newFundedKey(t, l, 1_000)

	_, err := submit(t, l, alice, Instruction{
		ProgramID: noteProgramID,
		Accounts: []AccountMeta{
			Meta(bob.PublicKey(), false, true),
			Meta(alice.PublicKey(), true, true),
		},
		Data: []byte{3},
	})

	assert.ErrorIs(t, err, ErrExternalAccountModified)
	assert.Equal(t, uint64(1_000), balance(t, l, bob.PublicKey()))
}

func TestSubmit_RejectsReadonlyWrite(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000)
	target := solana.NewWallet().PublicKey()

	_, err := submit(t, l, alice, Instruction{
		ProgramID: noteProgramID,
		Accounts:  []AccountMeta{Meta(target, false, false)},
		Data:      []byte{0, 1, 2, 3},
	})

	assert.ErrorIs(t, err, ErrReadonlyModified)
}

func TestSubmit_RejectsPrivilegeEscalation(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000)
	victim := newFundedKey(t, l, 1_000)

	_, err := submit(t, l, alice, Instruction{
		ProgramID: noteProgramID,
		Accounts: []AccountMeta{
			Meta(victim.PublicKey(), false, true),
			Meta(alice.PublicKey(), true, true),
			Meta(solana.SystemProgramID, false, false),
		},
		Data: []byte{4},
	})

	assert.ErrorIs(t, err, ErrPrivilegeEscalation)
	assert.Equal(t, uint64(1_000), balance(t, l, victim.PublicKey()))
}

func TestSubmit_UnknownProgram(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000)

	_, err := submit(t, l, alice, Instruction{ProgramID: solana.NewWallet().PublicKey(), Data: []byte{0}})

	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestSubmit_DuplicateTransaction(t *testing.T) {
	l := newTestLedger(t)
	alice := newFundedKey(t, l, 1_000)
	tx := NewTransaction(alice.PublicKey(), TransferInstruction(alice.PublicKey(), solana.NewWallet().PublicKey(), 10))
	require.NoError(t, tx.Sign(alice))

	_, err := l.Submit(context.Background(), tx)
	require.NoError(t, err)
	_, err = l.Submit(context.Background(), tx)

	assert.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, uint64(990), balance(t, l, alice.PublicKey()))
}

func TestSubmit_ConcurrentTransfersSerialize(t *testing.T) {
	l := newTestLedger(t)
	const senders = 8
	sink := solana.NewWallet().PublicKey()

	keys := make([]solana.PrivateKey, senders)
	for i := range keys {
		keys[i] = newFundedKey(t, l, 1_000)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var committed int
	for _, key := range keys {
		wg.Add(1)
		go func(key solana.PrivateKey) {
			defer wg.Done()
			tx := NewTransaction(key.PublicKey(), TransferInstruction(key.PublicKey(), sink, 100))
			if err := tx.Sign(key); err != nil {
				return
			}
			if _, err := l.Submit(context.Background(), tx); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()

	assert.Equal(t, uint64(committed*100), balance(t, l, sink))
}

func TestMemoryStore_CommitRejectsStaleReads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := solana.NewWallet().PublicKey()

	slot, err := store.Commit(ctx, &Commit{
		Reads:  map[solana.PublicKey]uint64{addr: 0},
		Writes: []*Account{{Address: addr, Owner: solana.SystemProgramID, Lamports: 5}},
	})
	require.NoError(t, err)

	_, err = store.Commit(ctx, &Commit{
		Reads:  map[solana.PublicKey]uint64{addr: 0},
		Writes: []*Account{{Address: addr, Owner: solana.SystemProgramID, Lamports: 6}},
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.Commit(ctx, &Commit{
		Reads:  map[solana.PublicKey]uint64{addr: slot},
		Writes: []*Account{{Address: addr, Lamports: 0}},
	})
	require.NoError(t, err)
	_, err = store.GetAccount(ctx, addr)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedger_Clock(t *testing.T) {
	l := newTestLedger(t)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return fixed })
	alice := newFundedKey(t, l, 1_000)

	receipt, err := submit(t, l, alice, TransferInstruction(alice.PublicKey(), solana.NewWallet().PublicKey(), 1))

	require.NoError(t, err)
	assert.Equal(t, fixed, receipt.Time)
}

func TestAirdrop_Disabled(t *testing.T) {
	l := New(NewMemoryStore(), nil)
	err := l.Airdrop(context.Background(), solana.NewWallet().PublicKey(), 1)
	assert.ErrorIs(t, err, ErrFaucetDisabled)
}

func TestDeriveAddress_RoundTrip(t *testing.T) {
	maker := solana.NewWallet().PublicKey()
	addr, bump, err := DeriveAddress(noteProgramID, []byte("escrow"), maker.Bytes(), U64Seed(7))
	require.NoError(t, err)

	assert.NoError(t, VerifyAddress(noteProgramID, addr, bump, []byte("escrow"), maker.Bytes(), U64Seed(7)))
	assert.ErrorIs(t, VerifyAddress(noteProgramID, addr, bump, []byte("escrow"), maker.Bytes(), U64Seed(8)), ErrInvalidSeeds)
}

func TestProgramError_MatchesByCode(t *testing.T) {
	decoded := &ProgramError{Code: 42}
	assert.True(t, errors.Is(decoded, errNoteRejected))
	assert.False(t, errors.Is(&ProgramError{Code: 43}, errNoteRejected))

	code, ok := ErrorCode(&TransactionError{Instruction: 0, Err: errNoteRejected})
	assert.True(t, ok)
	assert.Equal(t, uint32(42), code)
}

func TestRuntimeErrorName_RoundTrip(t *testing.T) {
	wrapped := &TransactionError{Instruction: 1, Err: fmt.Errorf("%w: have 0", ErrInsufficientLamports)}

	name, ok := RuntimeErrorName(wrapped)
	require.True(t, ok)
	assert.Equal(t, "InsufficientLamports", name)

	err, ok := RuntimeErrorByName(name)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrInsufficientLamports)

	_, ok = RuntimeErrorName(errNoteRejected)
	assert.False(t, ok)
	_, ok = RuntimeErrorByName("NoSuchError")
	assert.False(t, ok)
}

func TestCodec_AccountDiscriminator(t *testing.T) {
	type record struct {
		Owner solana.PublicKey
		Count uint32
		Label string
	}
	in := record{Owner: solana.NewWallet().PublicKey(), Count: 3, Label: "ctx"}

	data, err := EncodeAccount("Record", in)
	require.NoError(t, err)

	var out record
	require.NoError(t, DecodeAccount("Record", data, &out))
	assert.Equal(t, in, out)
	assert.ErrorIs(t, DecodeAccount("Other", data, &out), ErrInvalidAccountData)
}
