package ledger

import (
	"errors"
	"fmt"
)

// Runtime errors. Each one aborts the whole transaction.
var (
	ErrMissingSignature        = errors.New("missing required signature")
	ErrInvalidSignature        = errors.New("signature verification failed")
	ErrDuplicateTransaction    = errors.New("transaction already processed")
	ErrConflict                = errors.New("account version conflict")
	ErrAccountNotFound         = errors.New("account not found")
	ErrReceiptNotFound         = errors.New("receipt not found")
	ErrUnknownProgram          = errors.New("unknown program")
	ErrReadonlyModified        = errors.New("instruction modified a readonly account")
	ErrExternalAccountModified = errors.New("instruction modified an account it does not own")
	ErrExecutableModified      = errors.New("instruction modified an executable account")
	ErrUnbalancedInstruction   = errors.New("sum of account balances before and after instruction do not match")
	ErrAccountAlreadyInUse     = errors.New("account already in use")
	ErrPrivilegeEscalation     = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrCallDepth               = errors.New("cross-program invocation call depth too deep")
	ErrReentrancy              = errors.New("cross-program invocation reentrancy not allowed")
	ErrMissingAccount          = errors.New("cross-program invocation account not passed to caller")
	ErrInvalidAccountData      = errors.New("invalid account data for instruction")
	ErrInvalidInstructionData  = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys    = errors.New("not enough account keys given to the instruction")
	ErrInvalidSeeds            = errors.New("provided seeds do not result in a valid address")
	ErrInsufficientLamports    = errors.New("insufficient lamports")
	ErrIllegalOwner            = errors.New("provided owner is not allowed")
	ErrInvalidArgument         = errors.New("invalid program argument")
	ErrArithmeticOverflow      = errors.New("arithmetic overflow")
	ErrAccountNotRentExempt    = errors.New("account would not be rent exempt")
	ErrEmptyTransaction        = errors.New("transaction has no instructions")
)

// ProgramError is a custom error raised by a program. Two program errors are
// equal under errors.Is when their codes match, so an error decoded from an API
// response still matches the sentinel declared by the program.
type ProgramError struct {
	Code    uint32
	Name    string
	Message string
}

// NewProgramError declares a program error sentinel.
func NewProgramError(code uint32, name, message string) *ProgramError {
	return &ProgramError{Code: code, Name: name, Message: message}
}

func (e *ProgramError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("custom program error: %d", e.Code)
	}
	return fmt.Sprintf("custom program error: %d (%s): %s", e.Code, e.Name, e.Message)
}

func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

// TransactionError reports which instruction of a transaction failed.
type TransactionError struct {
	Instruction int
	Err         error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("instruction %d failed: %v", e.Instruction, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ErrorCode extracts the custom program error code from err, if any.
func ErrorCode(err error) (uint32, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// runtimeErrors names the runtime sentinels so they survive an API round trip.
var runtimeErrors = []struct {
	name string
	err  error
}{
	{"MissingSignature", ErrMissingSignature},
	{"InvalidSignature", ErrInvalidSignature},
	{"DuplicateTransaction", ErrDuplicateTransaction},
	{"Conflict", ErrConflict},
	{"AccountNotFound", ErrAccountNotFound},
	{"ReceiptNotFound", ErrReceiptNotFound},
	{"UnknownProgram", ErrUnknownProgram},
	{"ReadonlyModified", ErrReadonlyModified},
	{"ExternalAccountModified", ErrExternalAccountModified},
	{"ExecutableModified", ErrExecutableModified},
	{"UnbalancedInstruction", ErrUnbalancedInstruction},
	{"AccountAlreadyInUse", ErrAccountAlreadyInUse},
	{"PrivilegeEscalation", ErrPrivilegeEscalation},
	{"CallDepth", ErrCallDepth},
	{"Reentrancy", ErrReentrancy},
	{"MissingAccount", ErrMissingAccount},
	{"InvalidAccountData", ErrInvalidAccountData},
	{"InvalidInstructionData", ErrInvalidInstructionData},
	{"NotEnoughAccountKeys", ErrNotEnoughAccountKeys},
	{"InvalidSeeds", ErrInvalidSeeds},
	{"InsufficientLamports", ErrInsufficientLamports},
	{"IllegalOwner", ErrIllegalOwner},
	{"InvalidArgument", ErrInvalidArgument},
	{"ArithmeticOverflow", ErrArithmeticOverflow},
	{"AccountNotRentExempt", ErrAccountNotRentExempt},
	{"EmptyTransaction", ErrEmptyTransaction},
	{"FaucetDisabled", ErrFaucetDisabled},
}

// RuntimeErrorName returns the name of the runtime sentinel in err's chain.
func RuntimeErrorName(err error) (string, bool) {
	for _, re := range runtimeErrors {
		if errors.Is(err, re.err) {
			return re.name, true
		}
	}
	return "", false
}

// RuntimeErrorByName is the inverse of RuntimeErrorName.
func RuntimeErrorByName(name string) (error, bool) {
	for _, re := range runtimeErrors {
		if re.name == name {
			return re.err, true
		}
	}
	return nil, false
}
