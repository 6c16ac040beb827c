package escrow

import (
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
)

func mustInstruction(name string, args any) []byte {
	data, err := ledger.EncodeInstruction(name, args)
	if err != nil {
		panic(err)
	}
	return data
}

// MakeInstruction opens an escrow of maker for seed, depositing deposit of
// mintA and asking receive of mintB in return.
func MakeInstruction(maker, mintA, mintB solana.PublicKey, seed, receive, deposit uint64) ledger.Instruction {
	addr, _ := Address(maker, seed)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(maker, true, true),
			ledger.Meta(mintA, false, false),
			ledger.Meta(mintB, false, false),
			ledger.Meta(token.MustAssociatedAddress(maker, mintA), false, true),
			ledger.Meta(addr, false, true),
			ledger.Meta(VaultAddress(addr, mintA), false, true),
			ledger.Meta(token.AssociatedProgramID, false, false),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(MakeName, makeArgs{Seed: seed, Receive: receive, Deposit: deposit}),
	}
}

func TakeInstruction(taker solana.PublicKey, state *Escrow) ledger.Instruction {
	addr, _ := Address(state.Maker, state.Seed)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(taker, true, true),
			ledger.Meta(state.Maker, false, true),
			ledger.Meta(state.MintA, false, false),
			ledger.Meta(state.MintB, false, false),
			ledger.Meta(token.MustAssociatedAddress(taker, state.MintA), false, true),
			ledger.Meta(token.MustAssociatedAddress(taker, state.MintB), false, true),
			ledger.Meta(token.MustAssociatedAddress(state.Maker, state.MintB), false, true),
			ledger.Meta(addr, false, true),
			ledger.Meta(VaultAddress(addr, state.MintA), false, true),
			ledger.Meta(token.AssociatedProgramID, false, false),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(TakeName, nil),
	}
}

func RefundInstruction(state *Escrow) ledger.Instruction {
	addr, _ := Address(state.Maker, state.Seed)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(state.Maker, true, true),
			ledger.Meta(state.MintA, false, false),
			ledger.Meta(token.MustAssociatedAddress(state.Maker, state.MintA), false, true),
			ledger.Meta(addr, false, true),
			ledger.Meta(VaultAddress(addr, state.MintA), false, true),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(RefundName, nil),
	}
}

// OpenDisputeInstruction disputes the escrow of state between its maker and
// taker. context must be an unused oracle context; the interaction is keyed by
// (payer, context).
func OpenDisputeInstruction(payer, taker, context solana.PublicKey, state *Escrow, narrative string) ledger.Instruction {
	addr, _ := Address(state.Maker, state.Seed)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(payer, true, true),
			ledger.Meta(addr, false, true),
			ledger.Meta(state.Maker, false, false),
			ledger.Meta(taker, false, false),
			ledger.Meta(state.MintA, false, false),
			ledger.Meta(state.MintB, false, false),
			ledger.Meta(VaultAddress(addr, state.MintA), false, true),
			ledger.Meta(oracle.InteractionAddress(payer, context), false, true),
			ledger.Meta(context, false, false),
			ledger.Meta(oracle.ProgramID, false, false),
			ledger.Meta(token.ProgramID, false, false),
			ledger.Meta(token.AssociatedProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(token.MustAssociatedAddress(state.Maker, state.MintA), false, true),
			ledger.Meta(token.MustAssociatedAddress(taker, state.MintA), false, true),
		},
		Data: mustInstruction(OpenDisputeName, openDisputeArgs{Narrative: narrative}),
	}
}

// ResolveAccounts are the accounts resolve_dispute receives after the identity
// and the interaction. The oracle stores them as the callback accounts.
func ResolveAccounts(escrow solana.PublicKey, state *Escrow, makerATA, takerATA solana.PublicKey) []ledger.AccountMeta {
	return []ledger.AccountMeta{
		ledger.Meta(state.Maker, false, true),
		ledger.Meta(state.Taker, false, true),
		ledger.Meta(state.MintA, false, false),
		ledger.Meta(state.MintB, false, false),
		ledger.Meta(escrow, false, true),
		ledger.Meta(VaultAddress(escrow, state.MintA), false, true),
		ledger.Meta(makerATA, false, true),
		ledger.Meta(takerATA, false, true),
		ledger.Meta(solana.SystemProgramID, false, false),
		ledger.Meta(token.AssociatedProgramID, false, false),
		ledger.Meta(token.ProgramID, false, false),
	}
}

// resolveEscrowIndex is the position of the escrow in ResolveAccounts.
const resolveEscrowIndex = 4

// DisputedEscrow returns the escrow an interaction settles when the oracle
// answers it, or false when its callback is not resolve_dispute.
func DisputedEscrow(in *oracle.Interaction) (solana.PublicKey, bool) {
	cb := in.Callback
	if !cb.ProgramID.Equals(ProgramID) || cb.Discriminator != resolveDisc || len(cb.Accounts) <= resolveEscrowIndex {
		return solana.PublicKey{}, false
	}
	return cb.Accounts[resolveEscrowIndex].PublicKey, true
}

// ResolveMockInstruction settles a dispute without the oracle. It only works
// against a program built WithMockResolve.
func ResolveMockInstruction(caller solana.PublicKey, state *Escrow, decision string) ledger.Instruction {
	addr, _ := Address(state.Maker, state.Seed)
	metas := append([]ledger.AccountMeta{
		ledger.Meta(caller, true, false),
		ledger.Meta(state.Interaction, false, false),
	}, ResolveAccounts(addr, state,
		token.MustAssociatedAddress(state.Maker, state.MintA),
		token.MustAssociatedAddress(state.Taker, state.MintA))...)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  metas,
		Data:      mustInstruction(ResolveDisputeMockName, resolveArgs{Decision: decision}),
	}
}
