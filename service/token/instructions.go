package token

import (
	"github.com/brojonat/arbiter/service/ledger"
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

// CreateMintInstructions allocates and initializes a mint at the mint key, which must sign.
func CreateMintInstructions(payer, mint, authority solana.PublicKey, decimals uint8) []ledger.Instruction {
	return []ledger.Instruction{
		ledger.CreateAccountInstruction(payer, mint, ledger.MinimumBalance(MintSize), MintSize, ProgramID),
		InitializeMintInstruction(mint, authority, decimals),
	}
}

func InitializeMintInstruction(mint, authority solana.PublicKey, decimals uint8) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  []ledger.AccountMeta{ledger.Meta(mint, false, true)},
		Data:      mustEncode(initializeMintArgs{Tag: tagInitializeMint, Decimals: decimals, MintAuthority: authority}),
	}
}

func InitializeAccountInstruction(account, mint, owner solana.PublicKey) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(account, false, true),
			ledger.Meta(mint, false, false),
		},
		Data: mustEncode(initializeAccountArgs{Tag: tagInitializeAccount, Owner: owner}),
	}
}

func MintToInstruction(mint, dest, authority solana.PublicKey, amount uint64) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(mint, false, true),
			ledger.Meta(dest, false, true),
			ledger.Meta(authority, true, false),
		},
		Data: mustEncode(amountArgs{Tag: tagMintTo, Amount: amount}),
	}
}

func TransferInstruction(source, dest, owner solana.PublicKey, amount uint64) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(source, false, true),
			ledger.Meta(dest, false, true),
			ledger.Meta(owner, true, false),
		},
		Data: mustEncode(amountArgs{Tag: tagTransfer, Amount: amount}),
	}
}

func TransferCheckedInstruction(source, mint, dest, owner solana.PublicKey, amount uint64, decimals uint8) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(source, false, true),
			ledger.Meta(mint, false, false),
			ledger.Meta(dest, false, true),
			ledger.Meta(owner, true, false),
		},
		Data: mustEncode(transferCheckedArgs{Tag: tagTransferChecked, Amount: amount, Decimals: decimals}),
	}
}

func CloseAccountInstruction(account, dest, owner solana.PublicKey) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(account, false, true),
			ledger.Meta(dest, false, true),
			ledger.Meta(owner, true, false),
		},
		Data: []byte{tagCloseAccount},
	}
}

// CreateAssociatedInstruction creates the associated token account of wallet for mint.
// With idempotent set, an existing matching account is accepted.
func CreateAssociatedInstruction(payer, wallet, mint solana.PublicKey, idempotent bool) ledger.Instruction {
	tag := tagCreate
	if idempotent {
		tag = tagCreateIdempotent
	}
	return ledger.Instruction{
		ProgramID: AssociatedProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(payer, true, true),
			ledger.Meta(MustAssociatedAddress(wallet, mint), false, true),
			ledger.Meta(wallet, false, false),
			ledger.Meta(mint, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(ProgramID, false, false),
		},
		Data: []byte{tag},
	}
}
