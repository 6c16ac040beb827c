package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// System program instruction tags.
const (
	SystemCreateAccount uint32 = 0
	SystemAssign        uint32 = 1
	SystemTransfer      uint32 = 2
)

// rent: (128 byte account overhead + data) * lamports per byte-year * 2 years
const (
	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	exemptionThreshold     = 2
)

// MinimumBalance is the lamports an account with space bytes must hold to be rent exempt.
func MinimumBalance(space int) uint64 {
	return uint64(accountStorageOverhead+space) * lamportsPerByteYear * exemptionThreshold
}

type createAccountArgs struct {
	Tag      uint32
	Lamports uint64
	Space    uint64
	Owner    solana.PublicKey
}

type assignArgs struct {
	Tag   uint32
	Owner solana.PublicKey
}

type transferArgs struct {
	Tag      uint32
	Lamports uint64
}

// SystemProgram creates accounts and moves lamports between system accounts.
type SystemProgram struct{}

func (SystemProgram) Name() string { return "system" }

func (SystemProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case SystemCreateAccount:
		var args createAccountArgs
		if err := borsh.Deserialize(&args, data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
		}
		return processCreateAccount(ic, accounts, args)
	case SystemAssign:
		var args assignArgs
		if err := borsh.Deserialize(&args, data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
		}
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		acct := accounts[0]
		if !acct.IsSigner {
			return fmt.Errorf("%w: %s", ErrMissingSignature, acct.Key)
		}
		if !acct.IsOwnedBy(solana.SystemProgramID) {
			return fmt.Errorf("%w: %s", ErrIllegalOwner, acct.Key)
		}
		acct.Assign(args.Owner)
		return nil
	case SystemTransfer:
		var args transferArgs
		if err := borsh.Deserialize(&args, data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
		}
		return processTransfer(ic, accounts, args.Lamports)
	default:
		return ErrInvalidInstructionData
	}
}

func processCreateAccount(ic *InvokeContext, accounts []*AccountInfo, args createAccountArgs) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccountKeys
	}
	from, to := accounts[0], accounts[1]
	if !from.IsSigner {
		return fmt.Errorf("%w: funding account %s", ErrMissingSignature, from.Key)
	}
	if !to.IsSigner {
		return fmt.Errorf("%w: new account %s", ErrMissingSignature, to.Key)
	}
	if !to.IsEmpty() || !to.IsOwnedBy(solana.SystemProgramID) {
		ic.Logf("Create Account: account %s already in use", to.Key)
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, to.Key)
	}
	if !from.IsOwnedBy(solana.SystemProgramID) || len(from.Data()) > 0 {
		return fmt.Errorf("%w: funding account %s", ErrIllegalOwner, from.Key)
	}
	if args.Lamports < MinimumBalance(int(args.Space)) {
		return fmt.Errorf("%w: %s needs %d lamports", ErrAccountNotRentExempt, to.Key, MinimumBalance(int(args.Space)))
	}
	if from.Lamports() < args.Lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientLamports, from.Key, from.Lamports(), args.Lamports)
	}
	from.SetLamports(from.Lamports() - args.Lamports)
	to.SetLamports(args.Lamports)
	to.SetData(make([]byte, args.Space))
	to.Assign(args.Owner)
	return nil
}

func processTransfer(ic *InvokeContext, accounts []*AccountInfo, lamports uint64) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccountKeys
	}
	from, to := accounts[0], accounts[1]
	if !from.IsSigner {
		return fmt.Errorf("%w: %s", ErrMissingSignature, from.Key)
	}
	if !from.IsOwnedBy(solana.SystemProgramID) || len(from.Data()) > 0 {
		return fmt.Errorf("%w: transfer source %s carries data", ErrIllegalOwner, from.Key)
	}
	if from.Lamports() < lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientLamports, from.Key, from.Lamports(), lamports)
	}
	if from.Key.Equals(to.Key) {
		return nil
	}
	sum := to.Lamports() + lamports
	if sum < to.Lamports() {
		return ErrArithmeticOverflow
	}
	from.SetLamports(from.Lamports() - lamports)
	to.SetLamports(sum)
	ic.Logf("Transfer: %d lamports %s -> %s", lamports, from.Key, to.Key)
	return nil
}

// CreateAccountInstruction allocates space bytes for a new account owned by owner.
func CreateAccountInstruction(from, to solana.PublicKey, lamports, space uint64, owner solana.PublicKey) Instruction {
	data, _ := borsh.Serialize(createAccountArgs{Tag: SystemCreateAccount, Lamports: lamports, Space: space, Owner: owner})
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []AccountMeta{
			Meta(from, true, true),
			Meta(to, true, true),
		},
		Data: data,
	}
}

// TransferInstruction moves lamports between system accounts.
func TransferInstruction(from, to solana.PublicKey, lamports uint64) Instruction {
	data, _ := borsh.Serialize(transferArgs{Tag: SystemTransfer, Lamports: lamports})
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []AccountMeta{
			Meta(from, true, true),
			Meta(to, false, true),
		},
		Data: data,
	}
}

// AssignInstruction hands a system account to another program.
func AssignInstruction(acct, owner solana.PublicKey) Instruction {
	data, _ := borsh.Serialize(assignArgs{Tag: SystemAssign, Owner: owner})
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []AccountMeta{Meta(acct, true, true)},
		Data:      data,
	}
}
