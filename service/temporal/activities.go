package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/reasoner"
	"github.com/gagliardetto/solana-go"
	"go.temporal.io/api/serviceerror"
	sdkclient "go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Non-retryable application error types raised by the activities.
const (
	ErrTypeUndecided          = "Undecided"
	ErrTypeProgramError       = "ProgramError"
	ErrTypeInvalidInteraction = "InvalidInteraction"
)

// LoadInteractionInput contains parameters for the LoadInteraction activity.
type LoadInteractionInput struct {
	Address string `json:"address"`
}

// LoadInteractionResult is the interaction as the arbiter needs it.
type LoadInteractionResult struct {
	Prompt       string `json:"prompt"`
	Instructions string `json:"instructions"`
	IsProcessed  bool   `json:"is_processed"`
	Result       string `json:"result,omitempty"`
	// Settled is set when the escrow was settled without this interaction,
	// which then stays pending on the ledger.
	Settled bool `json:"settled,omitempty"`
}

// DecideInput contains parameters for the Decide activity.
type DecideInput struct {
	Address      string `json:"address"`
	Prompt       string `json:"prompt"`
	Instructions string `json:"instructions"`
}

// DecideResult holds the reasoner's raw answer and the decision mapped from it.
type DecideResult struct {
	Raw      string `json:"raw"`
	Decision string `json:"decision"`
}

// SubmitResponseInput contains parameters for the SubmitResponse activity.
type SubmitResponseInput struct {
	Address  string `json:"address"`
	Decision string `json:"decision"`
}

// SubmitResponseResult is the outcome of answering an interaction.
type SubmitResponseResult struct {
	Signature        string `json:"signature,omitempty"`
	Slot             uint64 `json:"slot,omitempty"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// ListPendingResult lists the interactions still waiting for a response.
type ListPendingResult struct {
	Addresses []string `json:"addresses"`
	Settled   int      `json:"settled"`
}

// StartArbitrationsInput contains parameters for the StartArbitrations activity.
type StartArbitrationsInput struct {
	Addresses []string `json:"addresses"`
}

// StartArbitrationsResult counts the arbitration workflows a sweep started.
type StartArbitrationsResult struct {
	Started int `json:"started"`
	Skipped int `json:"skipped"`
}

// LedgerClient defines the ledger API operations needed by activities.
// This allows for easy mocking in tests.
type LedgerClient interface {
	GetAccount(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error)
	GetInteraction(ctx context.Context, addr solana.PublicKey) (*client.InteractionView, error)
	ListInteractions(ctx context.Context, pending bool) ([]*client.InteractionView, error)
	SignAndSubmit(ctx context.Context, feePayer solana.PrivateKey, signers []solana.PrivateKey, ixs ...ledger.Instruction) (*ledger.Receipt, error)
}

// WorkflowStarter starts workflow executions. The Temporal SDK client satisfies it.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options sdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (sdkclient.WorkflowRun, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	ledger    LedgerClient
	reasoner  reasoner.Reasoner
	authority solana.PrivateKey
	starter   WorkflowStarter
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. The starter is only needed
// by the sweep.
func NewActivities(
	ledgerClient LedgerClient,
	r reasoner.Reasoner,
	authority solana.PrivateKey,
	starter WorkflowStarter,
	taskQueue string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		ledger:    ledgerClient,
		reasoner:  r,
		authority: authority,
		starter:   starter,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

func parseAddress(address string) (solana.PublicKey, error) {
	addr, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid interaction address %q", address), ErrTypeInvalidInteraction, err)
	}
	return addr, nil
}

// LoadInteraction reads an interaction and the label of its context, which
// carries the instructions the reasoner answers under.
func (a *Activities) LoadInteraction(ctx context.Context, input LoadInteractionInput) (*LoadInteractionResult, error) {
	defer a.recordDuration("LoadInteraction", time.Now())

	addr, err := parseAddress(input.Address)
	if err != nil {
		return nil, err
	}
	view, err := a.ledger.GetInteraction(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("interaction %s does not exist", input.Address), ErrTypeInvalidInteraction, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction: %w", err)
	}

	instructions := view.ContextLabel
	if instructions == "" {
		instructions = reasoner.DefaultInstructions
	}

	settled := false
	if !view.Interaction.IsProcessed {
		if settled, err = a.disputeSettled(ctx, addr, view.Interaction); err != nil {
			return nil, err
		}
	}

	a.logger.DebugContext(ctx, "loaded interaction",
		"address", input.Address,
		"is_processed", view.Interaction.IsProcessed,
		"settled", settled,
		"prompt_len", len(view.Interaction.Prompt),
	)

	return &LoadInteractionResult{
		Prompt:       view.Interaction.Prompt,
		Instructions: instructions,
		IsProcessed:  view.Interaction.IsProcessed || settled,
		Result:       view.Interaction.Result,
		Settled:      settled,
	}, nil
}

// disputeSettled reports whether the escrow an interaction resolves no longer
// waits on it, as after a mock resolve. Such an interaction is never marked
// processed, and answering it fails with AlreadyProcessed.
func (a *Activities) disputeSettled(ctx context.Context, addr solana.PublicKey, in *oracle.Interaction) (bool, error) {
	escrowAddr, ok := escrow.DisputedEscrow(in)
	if !ok {
		return false, nil
	}
	acct, err := a.ledger.GetAccount(ctx, escrowAddr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load escrow %s: %w", escrowAddr, err)
	}
	state, err := escrow.DecodeEscrow(acct.Data)
	if err != nil {
		return false, nil
	}
	return state.Status != escrow.StatusDisputed || !state.Interaction.Equals(addr), nil
}

// Decide asks the reasoner about the dispute and maps its answer to a party.
// An answer naming neither party fails without retry.
func (a *Activities) Decide(ctx context.Context, input DecideInput) (*DecideResult, error) {
	defer a.recordDuration("Decide", time.Now())

	start := time.Now()
	raw, err := a.reasoner.Reason(ctx, input.Instructions, input.Prompt)
	if a.metrics != nil {
		a.metrics.RecordReasonerCall(fmt.Sprintf("%T", a.reasoner), time.Since(start).Seconds(), err)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "reasoner failed", "address", input.Address, "error", err)
		return nil, fmt.Errorf("failed to reason about dispute: %w", err)
	}

	decision, err := reasoner.MapDecision(raw)
	if err != nil {
		a.logger.WarnContext(ctx, "reasoner answer names neither party",
			"address", input.Address,
			"answer", raw,
		)
		if a.metrics != nil {
			a.metrics.RecordDecision("none", "undecided")
		}
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("could not map answer %q to a party", raw), ErrTypeUndecided, err)
	}

	a.logger.InfoContext(ctx, "decided dispute", "address", input.Address, "decision", decision)
	return &DecideResult{Raw: raw, Decision: decision}, nil
}

// SubmitResponse answers the interaction with the decision, signed by the
// oracle authority. A response the ledger reports as already processed counts
// as success, which makes the activity safe to retry.
func (a *Activities) SubmitResponse(ctx context.Context, input SubmitResponseInput) (*SubmitResponseResult, error) {
	defer a.recordDuration("SubmitResponse", time.Now())

	addr, err := parseAddress(input.Address)
	if err != nil {
		return nil, err
	}
	view, err := a.ledger.GetInteraction(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction: %w", err)
	}
	if view.Interaction.IsProcessed {
		a.logger.InfoContext(ctx, "interaction already answered", "address", input.Address)
		a.recordDecision(input.Decision, "already_processed")
		return &SubmitResponseResult{AlreadyProcessed: true}, nil
	}

	ix := oracle.RespondInstruction(a.authority.PublicKey(), addr, view.Interaction, input.Decision)
	receipt, err := a.ledger.SignAndSubmit(ctx, a.authority, nil, ix)
	switch {
	case err == nil:
	case escrow.IsAlreadyProcessed(err):
		a.logger.InfoContext(ctx, "interaction answered concurrently", "address", input.Address)
		a.recordDecision(input.Decision, "already_processed")
		return &SubmitResponseResult{AlreadyProcessed: true}, nil
	default:
		a.logger.ErrorContext(ctx, "failed to submit response",
			"address", input.Address,
			"decision", input.Decision,
			"error", err,
		)
		if _, ok := ledger.ErrorCode(err); ok {
			a.recordDecision(input.Decision, "rejected")
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeProgramError, err)
		}
		return nil, fmt.Errorf("failed to submit response: %w", err)
	}

	a.recordDecision(input.Decision, "submitted")
	a.logger.InfoContext(ctx, "submitted response",
		"address", input.Address,
		"decision", input.Decision,
		"signature", receipt.Signature.String(),
		"slot", receipt.Slot,
	)
	return &SubmitResponseResult{Signature: receipt.Signature.String(), Slot: receipt.Slot}, nil
}

func (a *Activities) recordDecision(decision, status string) {
	if a.metrics != nil {
		a.metrics.RecordDecision(decision, status)
	}
}

// ListPending lists the interactions still waiting for a response.
func (a *Activities) ListPending(ctx context.Context) (*ListPendingResult, error) {
	defer a.recordDuration("ListPending", time.Now())

	views, err := a.ledger.ListInteractions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending interactions: %w", err)
	}

	result := &ListPendingResult{Addresses: make([]string, 0, len(views))}
	for _, v := range views {
		settled, err := a.disputeSettled(ctx, v.Address, v.Interaction)
		if err != nil {
			return nil, err
		}
		if settled {
			result.Settled++
			continue
		}
		result.Addresses = append(result.Addresses, v.Address.String())
	}
	if a.metrics != nil {
		a.metrics.RecordPendingInteractions(len(result.Addresses))
	}
	a.logger.DebugContext(ctx, "listed pending interactions",
		"count", len(result.Addresses),
		"settled", result.Settled,
	)
	return result, nil
}

// StartArbitrations starts one ArbitrateWorkflow per interaction. The workflow
// id is derived from the interaction, so an arbitration already running is
// skipped rather than duplicated.
func (a *Activities) StartArbitrations(ctx context.Context, input StartArbitrationsInput) (*StartArbitrationsResult, error) {
	defer a.recordDuration("StartArbitrations", time.Now())

	if a.starter == nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("no workflow starter configured", "Misconfigured", nil)
	}

	result := &StartArbitrationsResult{}
	for _, address := range input.Addresses {
		_, err := a.starter.ExecuteWorkflow(ctx, ArbitrateWorkflowOptions(address, a.taskQueue), ArbitrateWorkflow, ArbitrateInput{
			Interaction: address,
		})
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		switch {
		case err == nil:
			result.Started++
		case errors.As(err, &already):
			result.Skipped++
		default:
			return result, fmt.Errorf("failed to start arbitration for %s: %w", address, err)
		}
	}

	a.logger.InfoContext(ctx, "started arbitrations",
		"started", result.Started,
		"skipped", result.Skipped,
	)
	return result, nil
}

// ArbitrationWorkflowID is the workflow id of the arbitration of an interaction.
func ArbitrationWorkflowID(address string) string {
	return "arbitrate-" + address
}

// ArbitrateWorkflowOptions are the start options of the arbitration of an
// interaction. Starting it twice fails with WorkflowExecutionAlreadyStarted.
func ArbitrateWorkflowOptions(address, taskQueue string) sdkclient.StartWorkflowOptions {
	return sdkclient.StartWorkflowOptions{
		ID:                                       ArbitrationWorkflowID(address),
		TaskQueue:                                taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
}

// RecordArbitrationInput contains parameters for the RecordArbitration local activity.
type RecordArbitrationInput struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// RecordArbitration records how long an arbitration took end to end.
func (a *Activities) RecordArbitration(ctx context.Context, input RecordArbitrationInput) error {
	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(input.Status, time.Since(input.StartedAt).Seconds())
	}
	return nil
}
