package fundraiser_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	t      *testing.T
	ctx    context.Context
	ledger *ledger.Ledger
	now    time.Time
	maker  solana.PrivateKey
	mint   solana.PublicKey
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// newEnv starts a fundraiser for target over duration days, using a mint
// with the given decimals.
func newEnv(t *testing.T, decimals uint8, target uint64, duration uint8) *env {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)), ledger.WithFaucet())
	l.Register(token.ProgramID, token.Program{})
	l.Register(token.AssociatedProgramID, token.AssociatedProgram{})
	l.Register(fundraiser.ProgramID, fundraiser.Program{})
	e := &env{t: t, ctx: context.Background(), ledger: l, now: start, maker: newKey(t)}
	l.SetNowFunc(func() time.Time { return e.now })
	require.NoError(t, l.Airdrop(e.ctx, e.maker.PublicKey(), 1_000_000_000))

	mint := newKey(t)
	require.NoError(t, e.submit(e.maker, []solana.PrivateKey{mint},
		token.CreateMintInstructions(e.maker.PublicKey(), mint.PublicKey(), e.maker.PublicKey(), decimals)...))
	e.mint = mint.PublicKey()

	require.NoError(t, e.submit(e.maker, nil,
		fundraiser.InitializeInstruction(e.maker.PublicKey(), e.mint, target, start.Unix(), duration)))
	return e
}

func (e *env) submit(feePayer solana.PrivateKey, signers []solana.PrivateKey, ixs ...ledger.Instruction) error {
	e.t.Helper()
	tx := ledger.NewTransaction(feePayer.PublicKey(), ixs...)
	require.NoError(e.t, tx.Sign(append([]solana.PrivateKey{feePayer}, signers...)...))
	_, err := e.ledger.Submit(e.ctx, tx)
	return err
}

// contributor returns a funded contributor holding amount tokens.
func (e *env) contributor(amount uint64) solana.PrivateKey {
	e.t.Helper()
	c := newKey(e.t)
	require.NoError(e.t, e.ledger.Airdrop(e.ctx, c.PublicKey(), 100_000_000))
	require.NoError(e.t, e.submit(e.maker, nil,
		token.CreateAssociatedInstruction(e.maker.PublicKey(), c.PublicKey(), e.mint, true),
		token.MintToInstruction(e.mint, token.MustAssociatedAddress(c.PublicKey(), e.mint), e.maker.PublicKey(), amount),
	))
	return c
}

func (e *env) contribute(c solana.PrivateKey, amount uint64) error {
	e.t.Helper()
	return e.submit(c, nil, fundraiser.ContributeInstruction(c.PublicKey(), e.maker.PublicKey(), e.mint, amount))
}

func (e *env) refund(c solana.PrivateKey) error {
	e.t.Helper()
	return e.submit(c, nil, fundraiser.RefundInstruction(c.PublicKey(), e.maker.PublicKey(), e.mint))
}

func (e *env) state() *fundraiser.Fundraiser {
	e.t.Helper()
	addr, _ := fundraiser.Address(e.maker.PublicKey())
	acct, err := e.ledger.GetAccount(e.ctx, addr)
	require.NoError(e.t, err)
	f, err := fundraiser.DecodeFundraiser(acct.Data)
	require.NoError(e.t, err)
	return f
}

func (e *env) balance(owner solana.PublicKey) uint64 {
	e.t.Helper()
	acct, err := e.ledger.GetAccount(e.ctx, token.MustAssociatedAddress(owner, e.mint))
	require.NoError(e.t, err)
	state, err := token.DecodeAccount(acct.Data)
	require.NoError(e.t, err)
	return state.Amount
}

func (e *env) address() solana.PublicKey {
	addr, _ := fundraiser.Address(e.maker.PublicKey())
	return addr
}

func TestFundraiser_BelowTarget(t *testing.T) {
	e := newEnv(t, 6, 30_000_000, 10)
	c := e.contributor(5_000_000)

	require.NoError(t, e.contribute(c, 1_000_000))
	require.NoError(t, e.contribute(c, 1_000_000))

	f := e.state()
	assert.Equal(t, uint64(2_000_000), f.CurrentAmount)
	assert.Equal(t, e.maker.PublicKey(), f.Maker)
	assert.Equal(t, uint64(2_000_000), e.balance(e.address()))

	err := e.submit(e.maker, nil, fundraiser.CheckContributionsInstruction(e.maker.PublicKey(), e.mint))
	assert.ErrorIs(t, err, fundraiser.ErrTargetNotMet)

	err = e.refund(c)
	assert.ErrorIs(t, err, fundraiser.ErrFundraiserNotEnded)
}

func TestContribute_Limits(t *testing.T) {
	tests := []struct {
		name    string
		prior   uint64
		amount  uint64
		wantErr error
	}{
		{name: "below one whole token", amount: 999_999, wantErr: fundraiser.ErrContributionTooSmall},
		{name: "above ten percent", amount: 3_000_001, wantErr: fundraiser.ErrContributionTooBig},
		{name: "running total above ten percent", prior: 2_000_000, amount: 1_500_000, wantErr: fundraiser.ErrMaximumContributionsReached},
		{name: "exactly ten percent", prior: 2_000_000, amount: 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 6, 30_000_000, 10)
			c := e.contributor(10_000_000)
			if tt.prior > 0 {
				require.NoError(t, e.contribute(c, tt.prior))
			}

			err := e.contribute(c, tt.amount)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.prior, e.state().CurrentAmount)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.prior+tt.amount, e.state().CurrentAmount)
		})
	}
}

func TestContribute_AfterDeadline(t *testing.T) {
	e := newEnv(t, 6, 30_000_000, 2)
	c := e.contributor(5_000_000)
	e.now = start.Add(2 * 24 * time.Hour)

	err := e.contribute(c, 1_000_000)

	assert.ErrorIs(t, err, fundraiser.ErrFundraiserEnded)
}

func TestRefund_AfterDeadline(t *testing.T) {
	e := newEnv(t, 6, 30_000_000, 2)
	c := e.contributor(5_000_000)
	require.NoError(t, e.contribute(c, 3_000_000))
	e.now = start.Add(3 * 24 * time.Hour)

	require.NoError(t, e.refund(c))
	assert.Equal(t, uint64(5_000_000), e.balance(c.PublicKey()))
	assert.Equal(t, uint64(0), e.state().CurrentAmount)

	t.Run("second refund moves nothing", func(t *testing.T) {
		require.NoError(t, e.refund(c))
		assert.Equal(t, uint64(5_000_000), e.balance(c.PublicKey()))
		assert.Equal(t, uint64(0), e.balance(e.address()))
	})
}

func TestTargetMet(t *testing.T) {
	e := newEnv(t, 0, 100, 1)
	var contributors []solana.PrivateKey
	for i := 0; i < 10; i++ {
		c := e.contributor(10)
		require.NoError(t, e.contribute(c, 10))
		contributors = append(contributors, c)
	}
	assert.Equal(t, uint64(100), e.state().CurrentAmount)

	t.Run("refund is refused once the target is met", func(t *testing.T) {
		e.now = start.Add(48 * time.Hour)
		assert.ErrorIs(t, e.refund(contributors[0]), fundraiser.ErrTargetMet)
	})

	t.Run("only the maker collects", func(t *testing.T) {
		ix := fundraiser.CheckContributionsInstruction(e.maker.PublicKey(), e.mint)
		ix.Accounts[0] = ledger.Meta(contributors[1].PublicKey(), true, true)
		assert.ErrorIs(t, e.submit(contributors[1], nil, ix), token.ErrOwnerMismatch)
	})

	require.NoError(t, e.submit(e.maker, nil, fundraiser.CheckContributionsInstruction(e.maker.PublicKey(), e.mint)))
	assert.Equal(t, uint64(100), e.balance(e.maker.PublicKey()))
	assert.Equal(t, uint64(0), e.balance(e.address()))
}

func TestInitialize_InvalidAmount(t *testing.T) {
	e := newEnv(t, 6, 30_000_000, 10)
	other := newKey(t)
	require.NoError(t, e.ledger.Airdrop(e.ctx, other.PublicKey(), 100_000_000))

	err := e.submit(other, nil, fundraiser.InitializeInstruction(other.PublicKey(), e.mint, 2_999_999, start.Unix(), 10))

	assert.ErrorIs(t, err, fundraiser.ErrInvalidAmount)
}

func TestMaxPerContributor(t *testing.T) {
	tests := []struct {
		name   string
		target uint64
		want   uint64
	}{
		{name: "scenario target", target: 30_000_000, want: 3_000_000},
		{name: "rounds down", target: 1_009, want: 100},
		{name: "just below wrap", target: math.MaxUint64 / 10, want: math.MaxUint64 / 100},
		{name: "above wrap", target: math.MaxUint64/10 + 1, want: 184467440737095516},
		{name: "max", target: math.MaxUint64, want: math.MaxUint64 / 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fundraiser.Fundraiser{AmountToRaise: tt.target}
			assert.Equal(t, tt.want, f.MaxPerContributor())
		})
	}
}

func TestFundraiser_Window(t *testing.T) {
	f := fundraiser.Fundraiser{AmountToRaise: 1_000, TimeStarted: uint64(start.Unix()), Duration: 3}
	assert.Equal(t, uint64(100), f.MaxPerContributor())
	assert.False(t, f.Ended(start.Add(-time.Hour).Unix()))
	assert.False(t, f.Ended(start.Add(71*time.Hour).Unix()))
	assert.True(t, f.Ended(start.Add(72*time.Hour).Unix()))
}
