package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/brojonat/arbiter/service/ledger"
	natspkg "github.com/brojonat/arbiter/service/nats"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/token"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/api/serviceerror"
	sdkclient "go.temporal.io/sdk/client"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a transaction
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxAirdropLamports = 1_000 * 1_000_000_000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// Ledger is the ledger the API serves. *ledger.Ledger implements it.
type Ledger interface {
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
	GetAccount(ctx context.Context, addr solanago.PublicKey) (*ledger.Account, error)
	ListAccounts(ctx context.Context, owner solanago.PublicKey) ([]*ledger.Account, error)
	GetReceipt(ctx context.Context, sig solanago.Signature) (*ledger.Receipt, error)
	Airdrop(ctx context.Context, to solanago.PublicKey, lamports uint64) error
}

// Arbitrator starts the arbitration of an interaction. *temporal.Client implements it.
type Arbitrator interface {
	StartArbitration(ctx context.Context, address string) (sdkclient.WorkflowRun, error)
}

// handleSubmitTransaction returns a handler that executes a signed transaction.
// POST /api/v1/transactions
// Events of a committed transaction are published to NATS when a publisher is configured.
func handleSubmitTransaction(l Ledger, publisher natspkg.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var tx ledger.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			logger.Debug("invalid request body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		receipt, err := l.Submit(r.Context(), &tx)
		if err != nil {
			var logs []string
			if receipt != nil {
				logs = receipt.Logs
			}
			writeLedgerError(w, err, logs, logger)
			return
		}

		if publisher != nil {
			// The commit stands even if publishing fails.
			if err := publisher.PublishReceipt(r.Context(), receipt); err != nil {
				logger.Error("failed to publish receipt events",
					"signature", receipt.Signature.String(),
					"error", err,
				)
			}
		}

		logger.Info("transaction committed",
			"signature", receipt.Signature.String(),
			"slot", receipt.Slot,
			"events", len(receipt.Events),
		)
		writeJSON(w, receipt, http.StatusOK)
	})
}

// handleGetReceipt returns a handler that retrieves a transaction receipt.
// GET /api/v1/transactions/{signature}
func handleGetReceipt(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, err := solanago.SignatureFromBase58(r.PathValue("signature"))
		if err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}

		receipt, err := l.GetReceipt(r.Context(), sig)
		if err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}
		writeJSON(w, receipt, http.StatusOK)
	})
}

// handleGetAccount returns a handler that retrieves a raw account.
// GET /api/v1/accounts/{address}
func handleGetAccount(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		acct, err := l.GetAccount(r.Context(), addr)
		if err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}
		writeJSON(w, acct, http.StatusOK)
	})
}

// handleGetEscrow returns a handler that retrieves a decoded escrow and its vault balance.
// GET /api/v1/escrows/{address}
func handleGetEscrow(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		acct, err := ownedAccount(r.Context(), l, addr, escrow.ProgramID)
		if err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}
		state, err := escrow.DecodeEscrow(acct.Data)
		if err != nil {
			writeError(w, "account is not an escrow", http.StatusBadRequest)
			return
		}

		vault := state.Vault(addr)
		balance, err := tokenBalance(r.Context(), l, vault)
		if err != nil {
			logger.Error("failed to read vault", "escrow", addr.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, client.EscrowView{
			Address:      addr,
			Escrow:       state,
			Vault:        vault,
			VaultBalance: balance,
		}, http.StatusOK)
	})
}

// handleGetFundraiser returns a handler that retrieves a decoded fundraiser and its vault balance.
// GET /api/v1/fundraisers/{address}
func handleGetFundraiser(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		acct, err := ownedAccount(r.Context(), l, addr, fundraiser.ProgramID)
		if err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}
		state, err := fundraiser.DecodeFundraiser(acct.Data)
		if err != nil {
			writeError(w, "account is not a fundraiser", http.StatusBadRequest)
			return
		}

		vault := fundraiser.VaultAddress(addr, state.Mint)
		balance, err := tokenBalance(r.Context(), l, vault)
		if err != nil {
			logger.Error("failed to read vault", "fundraiser", addr.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, client.FundraiserView{
			Address:      addr,
			Fundraiser:   state,
			Vault:        vault,
			VaultBalance: balance,
		}, http.StatusOK)
	})
}

// handleGetInteraction returns a handler that retrieves a decoded oracle interaction.
// GET /api/v1/interactions/{address}
func handleGetInteraction(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		acct, err := ownedAccount(r.Context(), l, addr, oracle.ProgramID)
		if err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}
		if !oracle.IsInteraction(acct.Data) {
			writeError(w, "account is not an interaction", http.StatusBadRequest)
			return
		}

		view, err := interactionView(r.Context(), l, acct, map[solanago.PublicKey]string{})
		if err != nil {
			logger.Error("failed to decode interaction", "address", addr.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, view, http.StatusOK)
	})
}

// handleListInteractions returns a handler that lists oracle interactions.
// GET /api/v1/interactions?pending=true
func handleListInteractions(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pendingOnly := r.URL.Query().Get("pending") == "true"

		accounts, err := l.ListAccounts(r.Context(), oracle.ProgramID)
		if err != nil {
			logger.Error("failed to list oracle accounts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		labels := map[solanago.PublicKey]string{}
		views := make([]*client.InteractionView, 0)
		for _, acct := range accounts {
			if !oracle.IsInteraction(acct.Data) {
				continue
			}
			view, err := interactionView(r.Context(), l, acct, labels)
			if err != nil {
				logger.Warn("skipping undecodable interaction", "address", acct.Address.String(), "error", err)
				continue
			}
			if pendingOnly && view.Interaction.IsProcessed {
				continue
			}
			views = append(views, view)
		}

		logger.Debug("interactions listed", "count", len(views), "pending_only", pendingOnly)
		writeJSON(w, map[string]interface{}{
			"interactions": views,
		}, http.StatusOK)
	})
}

// handleArbitrate returns a handler that starts the arbitration of an interaction.
// POST /api/v1/interactions/{address}/arbitrate
func handleArbitrate(arbitrator Arbitrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathAddress(w, r, logger)
		if !ok {
			return
		}

		run, err := arbitrator.StartArbitration(r.Context(), addr.String())
		if err != nil {
			var already *serviceerror.WorkflowExecutionAlreadyStarted
			if errors.As(err, &already) {
				writeError(w, "arbitration already running", http.StatusConflict)
				return
			}
			logger.Error("failed to start arbitration", "address", addr.String(), "error", err)
			writeError(w, "failed to start arbitration", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]string{
			"workflow_id": run.GetID(),
			"run_id":      run.GetRunID(),
		}, http.StatusAccepted)
	})
}

// handleAirdrop returns a handler that credits lamports from the faucet.
// POST /api/v1/airdrop
func handleAirdrop(l Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req client.AirdropRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Address.IsZero() {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}
		if req.Lamports == 0 || req.Lamports > maxAirdropLamports {
			writeError(w, fmt.Sprintf("lamports must be between 1 and %d", maxAirdropLamports), http.StatusBadRequest)
			return
		}

		if err := l.Airdrop(r.Context(), req.Address, req.Lamports); err != nil {
			writeLedgerError(w, err, nil, logger)
			return
		}

		logger.Info("airdrop", "address", req.Address.String(), "lamports", req.Lamports)
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
}

func ownedAccount(ctx context.Context, l Ledger, addr, owner solanago.PublicKey) (*ledger.Account, error) {
	acct, err := l.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !acct.Owner.Equals(owner) {
		return nil, fmt.Errorf("%w: %s is owned by %s", ledger.ErrIllegalOwner, addr, acct.Owner)
	}
	return acct, nil
}

// tokenBalance is the amount held by a token account, zero once it is closed.
func tokenBalance(ctx context.Context, l Ledger, addr solanago.PublicKey) (uint64, error) {
	acct, err := l.GetAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ta, err := token.DecodeAccount(acct.Data)
	if err != nil {
		return 0, err
	}
	return ta.Amount, nil
}

// interactionView decodes an interaction and looks up its context label,
// caching labels across calls.
func interactionView(ctx context.Context, l Ledger, acct *ledger.Account, labels map[solanago.PublicKey]string) (*client.InteractionView, error) {
	ix, err := oracle.DecodeInteraction(acct.Data)
	if err != nil {
		return nil, err
	}

	label, ok := labels[ix.Context]
	if !ok {
		ctxAcct, err := l.GetAccount(ctx, ix.Context)
		switch {
		case err == nil:
			if c, err := oracle.DecodeContext(ctxAcct.Data); err == nil {
				label = c.Label
			}
		case !errors.Is(err, ledger.ErrAccountNotFound):
			return nil, err
		}
		labels[ix.Context] = label
	}

	return &client.InteractionView{
		Address:      acct.Address,
		Interaction:  ix,
		ContextLabel: label,
	}, nil
}

func pathAddress(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (solanago.PublicKey, bool) {
	address := r.PathValue("address")
	if err := validateAddress(address); err != nil {
		logger.Debug("invalid address", "address", address, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	addr, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		writeError(w, "invalid address: not a public key", http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	return addr, true
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	var txErr *ledger.TransactionError
	switch {
	case errors.As(err, &txErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrMissingSignature), errors.Is(err, ledger.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrFaucetDisabled):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrEmptyTransaction), errors.Is(err, ledger.ErrIllegalOwner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes a ledger error in the shape the Go client decodes
// back into the same error.
func writeLedgerError(w http.ResponseWriter, err error, logs []string, logger *slog.Logger) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("ledger error", "error", err)
		writeError(w, "internal server error", status)
		return
	}

	resp := client.ErrorResponse{Error: err.Error(), Logs: logs}

	var txErr *ledger.TransactionError
	if errors.As(err, &txErr) {
		ix := txErr.Instruction
		resp.Instruction = &ix
	}
	var pe *ledger.ProgramError
	if errors.As(err, &pe) {
		code := pe.Code
		resp.Code = &code
		resp.Name = pe.Name
		resp.Error = pe.Message
	} else if name, ok := ledger.RuntimeErrorName(err); ok {
		resp.Name = name
	}

	logger.Debug("request failed", "status", status, "error", err)
	writeJSON(w, resp, status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, client.ErrorResponse{Error: message}, statusCode)
}

// validateAddress validates an address path parameter for format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
