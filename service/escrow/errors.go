package escrow

import (
	"errors"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/oracle"
)

var (
	ErrInvalidAmount        = ledger.NewProgramError(6000, "InvalidAmount", "deposit must be greater than zero")
	ErrNotCreated           = ledger.NewProgramError(6001, "NotCreated", "escrow is not in the created state")
	ErrNotDisputed          = ledger.NewProgramError(6002, "NotDisputed", "escrow is not in the disputed state")
	ErrAlreadyProcessed     = ledger.NewProgramError(6003, "AlreadyProcessed", "interaction already processed")
	ErrInvalidDecision      = ledger.NewProgramError(6004, "InvalidDecision", "decision must be maker or taker")
	ErrUnauthorizedCallback = ledger.NewProgramError(6005, "UnauthorizedCallback", "callback was not signed by the oracle identity")
	ErrInteractionMismatch  = ledger.NewProgramError(6006, "InteractionMismatch", "interaction does not match the dispute")
	ErrTakerMismatch        = ledger.NewProgramError(6007, "TakerMismatch", "taker does not match the escrow")
	ErrMockResolveDisabled  = ledger.NewProgramError(6008, "MockResolveDisabled", "mock resolution is disabled")
	ErrInvalidAddress       = ledger.NewProgramError(6009, "InvalidAddress", "account is not at its derived address")
)

// IsAlreadyProcessed reports whether err means the dispute was already
// resolved, whichever program raised it.
func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, oracle.ErrAlreadyProcessed)
}
