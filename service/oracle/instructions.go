package oracle

import (
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
)

func mustInstruction(name string, args any) []byte {
	data, err := ledger.EncodeInstruction(name, args)
	if err != nil {
		panic(err)
	}
	return data
}

func InitializeInstruction(payer, authority solana.PublicKey) ledger.Instruction {
	counter, _ := CounterAddress()
	identity, _ := IdentityAddress()
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(payer, true, true),
			ledger.Meta(authority, true, false),
			ledger.Meta(counter, false, true),
			ledger.Meta(identity, false, true),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(InitializeName, nil),
	}
}

// CreateContextInstruction creates the context at sequence, which must be the
// counter's current value.
func CreateContextInstruction(payer solana.PublicKey, sequence uint32, label string) ledger.Instruction {
	counter, _ := CounterAddress()
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(payer, true, true),
			ledger.Meta(counter, false, true),
			ledger.Meta(ContextAddress(sequence), false, true),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(CreateContextName, createContextArgs{Label: label}),
	}
}

// RequestInstruction opens an interaction of payer under context. A zero
// callback stores the response without forwarding it.
func RequestInstruction(payer, context solana.PublicKey, prompt string, callback Callback) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(payer, true, true),
			ledger.Meta(InteractionAddress(payer, context), false, true),
			ledger.Meta(context, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
		},
		Data: mustInstruction(RequestName, requestArgs{Prompt: prompt, Callback: callback}),
	}
}

// RespondInstruction answers the interaction at address, forwarding to its
// callback with the stored account metas.
func RespondInstruction(authority, address solana.PublicKey, interaction *Interaction, result string) ledger.Instruction {
	identity, _ := IdentityAddress()
	metas := []ledger.AccountMeta{
		ledger.Meta(authority, true, true),
		ledger.Meta(identity, false, false),
		ledger.Meta(address, false, true),
	}
	if interaction.HasCallback() {
		metas = append(metas, ledger.Meta(interaction.Callback.ProgramID, false, false))
		for _, m := range interaction.Callback.Accounts {
			// The authority signs only for itself.
			metas = append(metas, ledger.Meta(m.PublicKey, false, m.IsWritable))
		}
	}
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  metas,
		Data:      mustInstruction(RespondName, respondArgs{Result: result}),
	}
}
