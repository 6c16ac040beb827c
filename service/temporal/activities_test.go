package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/reasoner"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	sdkclient "go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Ledger Client
type MockLedgerClient struct {
	mock.Mock
}

func (m *MockLedgerClient) GetAccount(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockLedgerClient) GetInteraction(ctx context.Context, addr solana.PublicKey) (*client.InteractionView, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.InteractionView), args.Error(1)
}

func (m *MockLedgerClient) ListInteractions(ctx context.Context, pending bool) ([]*client.InteractionView, error) {
	args := m.Called(ctx, pending)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*client.InteractionView), args.Error(1)
}

func (m *MockLedgerClient) SignAndSubmit(ctx context.Context, feePayer solana.PrivateKey, signers []solana.PrivateKey, ixs ...ledger.Instruction) (*ledger.Receipt, error) {
	args := m.Called(ctx, feePayer, signers, ixs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Receipt), args.Error(1)
}

// Mock Reasoner
type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Reason(ctx context.Context, instructions, prompt string) (string, error) {
	args := m.Called(ctx, instructions, prompt)
	return args.String(0), args.Error(1)
}

// Mock Workflow Starter
type MockStarter struct {
	mock.Mock
}

func (m *MockStarter) ExecuteWorkflow(ctx context.Context, options sdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (sdkclient.WorkflowRun, error) {
	called := m.Called(ctx, options, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).(sdkclient.WorkflowRun), called.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertNonRetryable(t *testing.T, err error, errType string) {
	t.Helper()
	var appErr *temporalsdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, errType, appErr.Type())
}

func disputedInteraction() (solana.PublicKey, *client.InteractionView) {
	addr := solana.NewWallet().PublicKey()
	return addr, &client.InteractionView{
		Address: addr,
		Interaction: &oracle.Interaction{
			Requester: solana.NewWallet().PublicKey(),
			Context:   solana.NewWallet().PublicKey(),
			Prompt:    "The taker delivered the goods on time.",
			Callback: oracle.Callback{
				ProgramID: escrow.ProgramID,
				Accounts: []ledger.AccountMeta{
					ledger.Meta(solana.NewWallet().PublicKey(), false, true),
				},
			},
		},
		ContextLabel: "Decide for the party that kept their promise.",
	}
}

// escrowDispute is an interaction whose callback resolves an escrow, and the
// escrow account while it still waits on the interaction.
func escrowDispute(t *testing.T) (solana.PublicKey, *client.InteractionView, solana.PublicKey, *ledger.Account) {
	t.Helper()
	addr := solana.NewWallet().PublicKey()
	escrowAddr := solana.NewWallet().PublicKey()
	state := &escrow.Escrow{
		Maker:       solana.NewWallet().PublicKey(),
		Taker:       solana.NewWallet().PublicKey(),
		MintA:       solana.NewWallet().PublicKey(),
		MintB:       solana.NewWallet().PublicKey(),
		Deposit:     50_000,
		Status:      escrow.StatusDisputed,
		Interaction: addr,
	}
	data, err := ledger.EncodeAccount("Escrow", *state)
	require.NoError(t, err)

	view := &client.InteractionView{
		Address: addr,
		Interaction: &oracle.Interaction{
			Requester: solana.NewWallet().PublicKey(),
			Context:   solana.NewWallet().PublicKey(),
			Prompt:    "The maker never shipped.",
			Callback: oracle.Callback{
				ProgramID:     escrow.ProgramID,
				Discriminator: ledger.InstructionDiscriminator(escrow.ResolveDisputeName),
				Accounts: escrow.ResolveAccounts(escrowAddr, state,
					solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()),
			},
		},
	}
	return addr, view, escrowAddr, &ledger.Account{Address: escrowAddr, Owner: escrow.ProgramID, Lamports: 1, Data: data}
}

func TestLoadInteraction_SettledEscrow(t *testing.T) {
	addr, view, escrowAddr, acct := escrowDispute(t)

	t.Run("escrow still disputed", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("GetAccount", mock.Anything, escrowAddr).Return(acct, nil)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		result, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.NoError(t, err)
		assert.False(t, result.IsProcessed)
		assert.False(t, result.Settled)
	})

	t.Run("closed escrow counts as processed", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("GetAccount", mock.Anything, escrowAddr).Return(nil, ledger.ErrAccountNotFound)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		result, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.NoError(t, err)
		assert.True(t, result.IsProcessed)
		assert.True(t, result.Settled)
	})

	t.Run("escrow waiting on another interaction", func(t *testing.T) {
		state, err := escrow.DecodeEscrow(acct.Data)
		require.NoError(t, err)
		state.Interaction = solana.NewWallet().PublicKey()
		data, err := ledger.EncodeAccount("Escrow", *state)
		require.NoError(t, err)
		redisputed := *acct
		redisputed.Data = data

		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("GetAccount", mock.Anything, escrowAddr).Return(&redisputed, nil)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		result, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.NoError(t, err)
		assert.True(t, result.Settled)
	})

	t.Run("escrow lookup failure is retried", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("GetAccount", mock.Anything, escrowAddr).Return(nil, errors.New("connection refused"))
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		_, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})
}

func TestLoadInteraction(t *testing.T) {
	addr, view := disputedInteraction()

	t.Run("uses context label as instructions", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		result, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.NoError(t, err)
		assert.Equal(t, view.Interaction.Prompt, result.Prompt)
		assert.Equal(t, view.ContextLabel, result.Instructions)
		assert.False(t, result.IsProcessed)
		lc.AssertExpectations(t)
	})

	t.Run("empty label falls back to default instructions", func(t *testing.T) {
		unlabeled := *view
		unlabeled.ContextLabel = ""
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(&unlabeled, nil)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		result, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.NoError(t, err)
		assert.Equal(t, reasoner.DefaultInstructions, result.Instructions)
	})

	t.Run("missing interaction is not retried", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(nil, ledger.ErrAccountNotFound)
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		_, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		assertNonRetryable(t, err, ErrTypeInvalidInteraction)
	})

	t.Run("invalid address is not retried", func(t *testing.T) {
		acts := NewActivities(new(MockLedgerClient), nil, nil, nil, "q", nil, testLogger())
		_, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: "not-base58!"})
		assertNonRetryable(t, err, ErrTypeInvalidInteraction)
	})

	t.Run("transport error is retried", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(nil, errors.New("connection refused"))
		acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())

		_, err := acts.LoadInteraction(context.Background(), LoadInteractionInput{Address: addr.String()})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		reasonErr error
		want      string
		wantErr   bool
		nonRetry  bool
	}{
		{name: "taker", answer: "The taker should win.", want: reasoner.DecisionTaker},
		{name: "maker", answer: "maker", want: reasoner.DecisionMaker},
		{name: "undecided", answer: "I cannot tell.", wantErr: true, nonRetry: true},
		{name: "reasoner down", reasonErr: errors.New("timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(MockReasoner)
			r.On("Reason", mock.Anything, "be fair", "dispute").Return(tt.answer, tt.reasonErr)
			acts := NewActivities(nil, r, nil, nil, "q", nil, testLogger())

			result, err := acts.Decide(context.Background(), DecideInput{
				Address:      "x",
				Prompt:       "dispute",
				Instructions: "be fair",
			})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.want, result.Decision)
				assert.Equal(t, tt.answer, result.Raw)
				return
			}
			require.Error(t, err)
			if tt.nonRetry {
				assertNonRetryable(t, err, ErrTypeUndecided)
			}
		})
	}
}

func TestSubmitResponse(t *testing.T) {
	authority := solana.NewWallet().PrivateKey
	addr, view := disputedInteraction()

	t.Run("submits response signed by authority", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)

		sig := solana.Signature{1, 2, 3}
		lc.On("SignAndSubmit", mock.Anything, authority, mock.Anything, mock.MatchedBy(func(ixs []ledger.Instruction) bool {
			if len(ixs) != 1 || !ixs[0].ProgramID.Equals(oracle.ProgramID) {
				return false
			}
			metas := ixs[0].Accounts
			return metas[0].PublicKey.Equals(authority.PublicKey()) && metas[0].IsSigner &&
				metas[2].PublicKey.Equals(addr) &&
				metas[3].PublicKey.Equals(escrow.ProgramID)
		})).Return(&ledger.Receipt{Signature: sig, Slot: 12}, nil)

		acts := NewActivities(lc, nil, authority, nil, "q", nil, testLogger())
		result, err := acts.SubmitResponse(context.Background(), SubmitResponseInput{Address: addr.String(), Decision: "taker"})
		require.NoError(t, err)
		assert.Equal(t, sig.String(), result.Signature)
		assert.Equal(t, uint64(12), result.Slot)
		assert.False(t, result.AlreadyProcessed)
		lc.AssertExpectations(t)
	})

	t.Run("already answered interaction is not resubmitted", func(t *testing.T) {
		processed := *view
		ix := *view.Interaction
		ix.IsProcessed = true
		ix.Result = "maker"
		processed.Interaction = &ix

		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(&processed, nil)

		acts := NewActivities(lc, nil, authority, nil, "q", nil, testLogger())
		result, err := acts.SubmitResponse(context.Background(), SubmitResponseInput{Address: addr.String(), Decision: "taker"})
		require.NoError(t, err)
		assert.True(t, result.AlreadyProcessed)
		lc.AssertNotCalled(t, "SignAndSubmit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	alreadyProcessed := []struct {
		name string
		err  error
	}{
		{name: "oracle", err: &ledger.TransactionError{Instruction: 0, Err: oracle.ErrAlreadyProcessed}},
		{name: "escrow", err: &ledger.TransactionError{Instruction: 0, Err: escrow.ErrAlreadyProcessed}},
	}
	for _, tt := range alreadyProcessed {
		t.Run("concurrent answer from "+tt.name+" counts as success", func(t *testing.T) {
			lc := new(MockLedgerClient)
			lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
			lc.On("SignAndSubmit", mock.Anything, authority, mock.Anything, mock.Anything).Return(nil, tt.err)

			acts := NewActivities(lc, nil, authority, nil, "q", nil, testLogger())
			result, err := acts.SubmitResponse(context.Background(), SubmitResponseInput{Address: addr.String(), Decision: "taker"})
			require.NoError(t, err)
			assert.True(t, result.AlreadyProcessed)
		})
	}

	t.Run("program error is not retried", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("SignAndSubmit", mock.Anything, authority, mock.Anything, mock.Anything).
			Return(nil, &ledger.TransactionError{Instruction: 0, Err: oracle.ErrNotAuthorized})

		acts := NewActivities(lc, nil, authority, nil, "q", nil, testLogger())
		_, err := acts.SubmitResponse(context.Background(), SubmitResponseInput{Address: addr.String(), Decision: "taker"})
		assertNonRetryable(t, err, ErrTypeProgramError)
	})

	t.Run("conflict is retried", func(t *testing.T) {
		lc := new(MockLedgerClient)
		lc.On("GetInteraction", mock.Anything, addr).Return(view, nil)
		lc.On("SignAndSubmit", mock.Anything, authority, mock.Anything, mock.Anything).Return(nil, ledger.ErrConflict)

		acts := NewActivities(lc, nil, authority, nil, "q", nil, testLogger())
		_, err := acts.SubmitResponse(context.Background(), SubmitResponseInput{Address: addr.String(), Decision: "taker"})
		require.ErrorIs(t, err, ledger.ErrConflict)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})
}

func TestListPending(t *testing.T) {
	a1, v1 := disputedInteraction()
	a2, v2 := disputedInteraction()

	lc := new(MockLedgerClient)
	lc.On("ListInteractions", mock.Anything, true).Return([]*client.InteractionView{v1, v2}, nil)

	acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())
	result, err := acts.ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{a1.String(), a2.String()}, result.Addresses)
}

func TestListPending_SkipsSettledEscrows(t *testing.T) {
	a1, v1 := disputedInteraction()
	_, v2, escrowAddr, _ := escrowDispute(t)

	lc := new(MockLedgerClient)
	lc.On("ListInteractions", mock.Anything, true).Return([]*client.InteractionView{v1, v2}, nil)
	lc.On("GetAccount", mock.Anything, escrowAddr).Return(nil, ledger.ErrAccountNotFound)

	acts := NewActivities(lc, nil, nil, nil, "q", nil, testLogger())
	result, err := acts.ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{a1.String()}, result.Addresses)
	assert.Equal(t, 1, result.Settled)
	lc.AssertExpectations(t)
}

func TestStartArbitrations(t *testing.T) {
	t.Run("running arbitrations are skipped", func(t *testing.T) {
		starter := new(MockStarter)
		starter.On("ExecuteWorkflow", mock.Anything, ArbitrateWorkflowOptions("a", "arbiter"), mock.Anything).Return(nil, nil)
		starter.On("ExecuteWorkflow", mock.Anything, ArbitrateWorkflowOptions("b", "arbiter"), mock.Anything).
			Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", ""))

		acts := NewActivities(nil, nil, nil, starter, "arbiter", nil, testLogger())
		result, err := acts.StartArbitrations(context.Background(), StartArbitrationsInput{Addresses: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Started)
		assert.Equal(t, 1, result.Skipped)
		starter.AssertNumberOfCalls(t, "ExecuteWorkflow", 2)
	})

	t.Run("start failure is returned", func(t *testing.T) {
		starter := new(MockStarter)
		starter.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

		acts := NewActivities(nil, nil, nil, starter, "arbiter", nil, testLogger())
		_, err := acts.StartArbitrations(context.Background(), StartArbitrationsInput{Addresses: []string{"a"}})
		assert.Error(t, err)
	})

	t.Run("workflow id is derived from the interaction", func(t *testing.T) {
		opts := ArbitrateWorkflowOptions("abc", "arbiter")
		assert.Equal(t, "arbitrate-abc", opts.ID)
		assert.Equal(t, "arbiter", opts.TaskQueue)
		assert.True(t, opts.WorkflowExecutionErrorWhenAlreadyStarted)
	})
}
