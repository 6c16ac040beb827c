package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

const testInteraction = "TestInteraction1111111111111111111111111111"

func newArbitrateEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first (before mocking)
	activities := &Activities{logger: testLogger()}
	env.RegisterActivity(activities.LoadInteraction)
	env.RegisterActivity(activities.Decide)
	env.RegisterActivity(activities.SubmitResponse)
	env.RegisterActivity(activities.ListPending)
	env.RegisterActivity(activities.StartArbitrations)
	env.RegisterActivityWithOptions(activities.RecordArbitration, activity.RegisterOptions{Name: "RecordArbitration"})
	return env, activities
}

func TestArbitrateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		mockActivities func(env *testsuite.TestWorkflowEnvironment, acts *Activities)
		expectedError  bool
		validateResult func(*testing.T, *ArbitrateResult)
	}{
		{
			name: "decides and submits",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.LoadInteraction, mock.Anything, LoadInteractionInput{Address: testInteraction}).
					Return(&LoadInteractionResult{Prompt: "the taker delivered", Instructions: "be fair"}, nil)
				env.OnActivity(acts.Decide, mock.Anything, DecideInput{
					Address:      testInteraction,
					Prompt:       "the taker delivered",
					Instructions: "be fair",
				}).Return(&DecideResult{Raw: "Taker.", Decision: "taker"}, nil)
				env.OnActivity(acts.SubmitResponse, mock.Anything, SubmitResponseInput{Address: testInteraction, Decision: "taker"}).
					Return(&SubmitResponseResult{Signature: "sig1", Slot: 4}, nil)
			},
			validateResult: func(t *testing.T, result *ArbitrateResult) {
				assert.Equal(t, testInteraction, result.Interaction)
				assert.Equal(t, "taker", result.Decision)
				assert.Equal(t, "Taker.", result.Answer)
				assert.Equal(t, "sig1", result.Signature)
				assert.False(t, result.AlreadyProcessed)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "already processed interaction ends early",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
					Return(&LoadInteractionResult{IsProcessed: true, Result: "maker"}, nil)
				// Decide and SubmitResponse must not be called.
			},
			validateResult: func(t *testing.T, result *ArbitrateResult) {
				assert.True(t, result.AlreadyProcessed)
				assert.Equal(t, "maker", result.Decision)
				assert.Empty(t, result.Signature)
			},
		},
		{
			name: "response raced by another submitter",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
					Return(&LoadInteractionResult{Prompt: "p", Instructions: "i"}, nil)
				env.OnActivity(acts.Decide, mock.Anything, mock.Anything).
					Return(&DecideResult{Raw: "maker", Decision: "maker"}, nil)
				env.OnActivity(acts.SubmitResponse, mock.Anything, mock.Anything).
					Return(&SubmitResponseResult{AlreadyProcessed: true}, nil)
			},
			validateResult: func(t *testing.T, result *ArbitrateResult) {
				assert.True(t, result.AlreadyProcessed)
				assert.Equal(t, "maker", result.Decision)
			},
		},
		{
			name: "load fails",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("gone", ErrTypeInvalidInteraction, nil))
			},
			expectedError: true,
		},
		{
			name: "submit rejected by program",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
					Return(&LoadInteractionResult{Prompt: "p", Instructions: "i"}, nil)
				env.OnActivity(acts.Decide, mock.Anything, mock.Anything).
					Return(&DecideResult{Raw: "taker", Decision: "taker"}, nil)
				env.OnActivity(acts.SubmitResponse, mock.Anything, mock.Anything).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("not authorized", ErrTypeProgramError, nil))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, acts := newArbitrateEnv(t)
			tt.mockActivities(env, acts)

			env.ExecuteWorkflow(ArbitrateWorkflow, ArbitrateInput{Interaction: testInteraction})

			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result ArbitrateResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
			env.AssertExpectations(t)
		})
	}
}

func TestArbitrateWorkflow_UndecidedNotRetried(t *testing.T) {
	env, acts := newArbitrateEnv(t)

	env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
		Return(&LoadInteractionResult{Prompt: "p", Instructions: "i"}, nil)

	decideCalls := 0
	env.OnActivity(acts.Decide, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		decideCalls++
	}).Return(nil, temporalsdk.NewNonRetryableApplicationError("no party named", ErrTypeUndecided, nil))

	env.ExecuteWorkflow(ArbitrateWorkflow, ArbitrateInput{Interaction: testInteraction})

	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeUndecided, appErr.Type())
	assert.Equal(t, 1, decideCalls)
}

func TestArbitrateWorkflow_ActivityRetries(t *testing.T) {
	env, acts := newArbitrateEnv(t)

	env.OnActivity(acts.LoadInteraction, mock.Anything, mock.Anything).
		Return(&LoadInteractionResult{Prompt: "p", Instructions: "i"}, nil)
	env.OnActivity(acts.Decide, mock.Anything, mock.Anything).
		Return(&DecideResult{Raw: "taker", Decision: "taker"}, nil)

	// Mock SubmitResponse to fail twice then succeed
	callCount := 0
	env.OnActivity(acts.SubmitResponse, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("ledger unavailable") // Temporal retries on panics
		}
	}).Return(&SubmitResponseResult{Signature: "sig"}, nil)

	env.ExecuteWorkflow(ArbitrateWorkflow, ArbitrateInput{Interaction: testInteraction})

	assert.NoError(t, env.GetWorkflowError())
	var result ArbitrateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "sig", result.Signature)
	assert.Equal(t, 3, callCount)
}

func TestSweepWorkflow(t *testing.T) {
	t.Run("starts one arbitration per pending interaction", func(t *testing.T) {
		env, acts := newArbitrateEnv(t)
		env.OnActivity(acts.ListPending, mock.Anything).
			Return(&ListPendingResult{Addresses: []string{"a", "b", "c"}}, nil)
		env.OnActivity(acts.StartArbitrations, mock.Anything, StartArbitrationsInput{Addresses: []string{"a", "b", "c"}}).
			Return(&StartArbitrationsResult{Started: 2, Skipped: 1}, nil)

		env.ExecuteWorkflow(SweepWorkflow)

		require.NoError(t, env.GetWorkflowError())
		var result SweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, SweepResult{Pending: 3, Started: 2, Skipped: 1}, result)
	})

	t.Run("nothing pending", func(t *testing.T) {
		env, acts := newArbitrateEnv(t)
		env.OnActivity(acts.ListPending, mock.Anything).Return(&ListPendingResult{}, nil)

		env.ExecuteWorkflow(SweepWorkflow)

		require.NoError(t, env.GetWorkflowError())
		var result SweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Zero(t, result.Pending)
		assert.Zero(t, result.Started)
	})

	t.Run("list fails", func(t *testing.T) {
		env, acts := newArbitrateEnv(t)
		env.OnActivity(acts.ListPending, mock.Anything).
			Return(nil, temporalsdk.NewNonRetryableApplicationError("down", "Unavailable", nil))

		env.ExecuteWorkflow(SweepWorkflow)
		assert.Error(t, env.GetWorkflowError())
	})
}
