package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ArbitrateInput names the interaction to answer.
type ArbitrateInput struct {
	Interaction string `json:"interaction"`
}

// ArbitrateResult contains the result of arbitrating one interaction.
type ArbitrateResult struct {
	Interaction      string  `json:"interaction"`
	Decision         string  `json:"decision,omitempty"`
	Answer           string  `json:"answer,omitempty"`
	Signature        string  `json:"signature,omitempty"`
	AlreadyProcessed bool    `json:"already_processed"`
	Error            *string `json:"error,omitempty"`
}

// SweepResult summarizes one sweep of pending interactions.
type SweepResult struct {
	Pending int `json:"pending"`
	Started int `json:"started"`
	Skipped int `json:"skipped"`
}

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
			NonRetryableErrorTypes: []string{
				ErrTypeUndecided,
				ErrTypeProgramError,
				ErrTypeInvalidInteraction,
			},
		},
	}
}

// ArbitrateWorkflow answers one disputed interaction.
//
// The workflow performs these steps:
// 1. Load the interaction and its context (LoadInteraction activity)
// 2. Ask the reasoner and map its answer to maker or taker (Decide activity)
// 3. Submit the response signed by the oracle authority (SubmitResponse activity)
//
// An interaction that is already answered ends the workflow successfully.
func ArbitrateWorkflow(ctx workflow.Context, input ArbitrateInput) (*ArbitrateResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ArbitrateWorkflow started", "interaction", input.Interaction)

	startedAt := workflow.Now(ctx)
	result := &ArbitrateResult{Interaction: input.Interaction}
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	fail := func(step string, err error) (*ArbitrateResult, error) {
		errMsg := fmt.Sprintf("%s: %v", step, err)
		result.Error = &errMsg
		recordArbitration(ctx, "failed", startedAt)
		return result, fmt.Errorf("%s: %w", step, err)
	}

	var loaded *LoadInteractionResult
	err := workflow.ExecuteActivity(ctx, a.LoadInteraction, LoadInteractionInput{Address: input.Interaction}).Get(ctx, &loaded)
	if err != nil {
		return fail("failed to load interaction", err)
	}
	if loaded.IsProcessed {
		logger.Info("interaction already answered", "interaction", input.Interaction, "result", loaded.Result)
		result.Decision = loaded.Result
		result.AlreadyProcessed = true
		recordArbitration(ctx, "already_processed", startedAt)
		return result, nil
	}

	var decided *DecideResult
	err = workflow.ExecuteActivity(ctx, a.Decide, DecideInput{
		Address:      input.Interaction,
		Prompt:       loaded.Prompt,
		Instructions: loaded.Instructions,
	}).Get(ctx, &decided)
	if err != nil {
		return fail("failed to decide", err)
	}
	result.Decision = decided.Decision
	result.Answer = decided.Raw

	var submitted *SubmitResponseResult
	err = workflow.ExecuteActivity(ctx, a.SubmitResponse, SubmitResponseInput{
		Address:  input.Interaction,
		Decision: decided.Decision,
	}).Get(ctx, &submitted)
	if err != nil {
		return fail("failed to submit response", err)
	}
	result.Signature = submitted.Signature
	result.AlreadyProcessed = submitted.AlreadyProcessed

	status := "resolved"
	if submitted.AlreadyProcessed {
		status = "already_processed"
	}
	recordArbitration(ctx, status, startedAt)

	logger.Info("ArbitrateWorkflow completed successfully",
		"interaction", input.Interaction,
		"decision", result.Decision,
		"signature", result.Signature,
	)
	return result, nil
}

// recordArbitration runs the RecordArbitration local activity. Metrics are
// best effort, so its failure does not fail the workflow.
func recordArbitration(ctx workflow.Context, status string, startedAt time.Time) {
	lctx := workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
	})
	// By name: local activities given as a function value would run on the nil a.
	err := workflow.ExecuteLocalActivity(lctx, "RecordArbitration", RecordArbitrationInput{
		Status:    status,
		StartedAt: startedAt,
	}).Get(lctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to record arbitration", "error", err)
	}
}

// SweepWorkflow is triggered by the sweep schedule. It lists pending
// interactions and starts one ArbitrateWorkflow for each.
func SweepWorkflow(ctx workflow.Context) (*SweepResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var pending *ListPendingResult
	if err := workflow.ExecuteActivity(ctx, a.ListPending).Get(ctx, &pending); err != nil {
		return nil, fmt.Errorf("failed to list pending interactions: %w", err)
	}

	result := &SweepResult{Pending: len(pending.Addresses)}
	if result.Pending == 0 {
		logger.Debug("no pending interactions")
		return result, nil
	}

	var started *StartArbitrationsResult
	err := workflow.ExecuteActivity(ctx, a.StartArbitrations, StartArbitrationsInput{
		Addresses: pending.Addresses,
	}).Get(ctx, &started)
	if err != nil {
		return result, fmt.Errorf("failed to start arbitrations: %w", err)
	}
	result.Started = started.Started
	result.Skipped = started.Skipped

	logger.Info("SweepWorkflow completed",
		"pending", result.Pending,
		"started", result.Started,
		"skipped", result.Skipped,
	)
	return result, nil
}
