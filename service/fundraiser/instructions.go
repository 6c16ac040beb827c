package fundraiser

import (
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

func mustEncode(v any) []byte {
	data, err := borsh.Serialize(v)
	if err != nil {
		panic(err)
	}
	return data
}

// InitializeInstruction opens the fundraiser of maker. started is a unix time
// and duration is in days.
func InitializeInstruction(maker, mint solana.PublicKey, amountToRaise uint64, started int64, duration uint8) ledger.Instruction {
	addr, bump := Address(maker)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(maker, true, true),
			ledger.Meta(mint, false, false),
			ledger.Meta(addr, false, true),
			ledger.Meta(VaultAddress(addr, mint), false, true),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(token.AssociatedProgramID, false, false),
		},
		Data: mustEncode(initializeArgs{
			Tag:           TagInitialize,
			Bump:          bump,
			AmountToRaise: amountToRaise,
			TimeStarted:   uint64(started),
			Duration:      duration,
		}),
	}
}

func ContributeInstruction(contributor, maker, mint solana.PublicKey, amount uint64) ledger.Instruction {
	addr, _ := Address(maker)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(contributor, true, true),
			ledger.Meta(mint, false, false),
			ledger.Meta(addr, false, true),
			ledger.Meta(ContributorAddress(addr, contributor), false, true),
			ledger.Meta(token.MustAssociatedAddress(contributor, mint), false, true),
			ledger.Meta(VaultAddress(addr, mint), false, true),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustEncode(contributeArgs{Tag: TagContribute, Amount: amount}),
	}
}

// CheckContributionsInstruction collects the vault into the maker's token
// account once the target is met.
func CheckContributionsInstruction(maker, mint solana.PublicKey) ledger.Instruction {
	addr, _ := Address(maker)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(maker, true, true),
			ledger.Meta(mint, false, false),
			ledger.Meta(addr, false, false),
			ledger.Meta(VaultAddress(addr, mint), false, true),
			ledger.Meta(token.MustAssociatedAddress(maker, mint), false, true),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(token.AssociatedProgramID, false, false),
		},
		Data: []byte{TagChecker},
	}
}

func RefundInstruction(contributor, maker, mint solana.PublicKey) ledger.Instruction {
	addr, _ := Address(maker)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(contributor, true, true),
			ledger.Meta(maker, false, false),
			ledger.Meta(mint, false, false),
			ledger.Meta(addr, false, true),
			ledger.Meta(ContributorAddress(addr, contributor), false, true),
			ledger.Meta(token.MustAssociatedAddress(contributor, mint), false, true),
			ledger.Meta(VaultAddress(addr, mint), false, true),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: []byte{TagRefund},
	}
}
