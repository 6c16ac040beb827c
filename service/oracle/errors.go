package oracle

import "github.com/brojonat/arbiter/service/ledger"

var (
	ErrNotAuthorized           = ledger.NewProgramError(6100, "NotAuthorized", "signer is not the oracle authority")
	ErrAlreadyProcessed        = ledger.NewProgramError(6101, "AlreadyProcessed", "interaction already processed")
	ErrInvalidContext          = ledger.NewProgramError(6102, "InvalidContext", "context account is not an oracle context")
	ErrCallbackAccountMismatch = ledger.NewProgramError(6103, "CallbackAccountMismatch", "callback accounts do not match the interaction")
	ErrInvalidAddress          = ledger.NewProgramError(6104, "InvalidAddress", "account is not at its derived address")
	ErrNotInitialized          = ledger.NewProgramError(6105, "NotInitialized", "oracle is not initialized")
)
