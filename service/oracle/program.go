package oracle

import (
	"fmt"
	"strconv"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/near/borsh-go"
)

// Instruction names, hashed into discriminators.
const (
	InitializeName    = "initialize"
	CreateContextName = "create_context"
	RequestName       = "request"
	RespondName       = "respond"
)

// Events emitted by the oracle.
const (
	EventInitialized        = "oracle.initialized"
	EventContextCreated     = "oracle.context_created"
	EventInteractionRequest = "oracle.interaction_requested"
	EventInteractionDone    = "oracle.interaction_processed"
)

var (
	initializeDisc    = ledger.InstructionDiscriminator(InitializeName)
	createContextDisc = ledger.InstructionDiscriminator(CreateContextName)
	requestDisc       = ledger.InstructionDiscriminator(RequestName)
	respondDisc       = ledger.InstructionDiscriminator(RespondName)
)

type createContextArgs struct {
	Label string
}

type requestArgs struct {
	Prompt   string
	Callback Callback
}

type respondArgs struct {
	Result string
}

// ResultReserve is the data an interaction pays rent for up front so that a
// short result fits without more rent.
const ResultReserve = 64

// Program is the oracle program.
type Program struct{}

func (Program) Name() string { return "oracle" }

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	disc, ok := ledger.SplitDiscriminator(data)
	if !ok {
		return ledger.ErrInvalidInstructionData
	}
	switch disc {
	case initializeDisc:
		return p.initialize(ic, accounts)
	case createContextDisc:
		var args createContextArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.createContext(ic, accounts, args)
	case requestDisc:
		var args requestArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.request(ic, accounts, args)
	case respondDisc:
		var args respondArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.respond(ic, accounts, args)
	default:
		return ledger.ErrInvalidInstructionData
	}
}

// writeState creates target holding v, rent exempt for reserve more bytes of data.
func writeState(ic *ledger.InvokeContext, payer, target *ledger.AccountInfo, name string, v any, seeds [][]byte, reserve int) error {
	data, err := ledger.EncodeAccount(name, v)
	if err != nil {
		return err
	}
	if err := ic.CreateProgramAccount(payer, target, len(data)+reserve, seeds); err != nil {
		return err
	}
	target.SetData(data)
	return nil
}

func requireSigner(info *ledger.AccountInfo) error {
	if !info.IsSigner {
		return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, info.Key)
	}
	return nil
}

func (Program) initialize(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 5 {
		return ledger.ErrNotEnoughAccountKeys
	}
	payer, authority, counter, identity := accounts[0], accounts[1], accounts[2], accounts[3]
	if err := requireSigner(payer); err != nil {
		return err
	}
	if err := requireSigner(authority); err != nil {
		return err
	}
	counterAddr, counterBump := CounterAddress()
	identityAddr, identityBump := IdentityAddress()
	if !counter.Key.Equals(counterAddr) || !identity.Key.Equals(identityAddr) {
		return ErrInvalidAddress
	}

	if err := writeState(ic, payer, counter, counterName, Counter{},
		[][]byte{[]byte(CounterSeed), {counterBump}}, 0); err != nil {
		return err
	}
	id := Identity{Authority: authority.Key, Bump: identityBump}
	if err := writeState(ic, payer, identity, identityName, id,
		[][]byte{[]byte(IdentitySeed), {identityBump}}, 0); err != nil {
		return err
	}
	ic.Logf("Instruction: Initialize authority=%s", authority.Key)
	ic.Emit(EventInitialized, map[string]string{"authority": authority.Key.String()})
	return nil
}

func (Program) createContext(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args createContextArgs) error {
	if len(accounts) < 4 {
		return ledger.ErrNotEnoughAccountKeys
	}
	payer, counterInfo, contextInfo := accounts[0], accounts[1], accounts[2]
	if err := requireSigner(payer); err != nil {
		return err
	}
	counterAddr, _ := CounterAddress()
	if !counterInfo.Key.Equals(counterAddr) || !counterInfo.IsOwnedBy(ic.ProgramID()) {
		return ErrNotInitialized
	}
	counter, err := DecodeCounter(counterInfo.Data())
	if err != nil {
		return err
	}

	seq := ledger.U32Seed(counter.Count)
	expected, bump, err := ledger.DeriveAddress(ic.ProgramID(), []byte(ContextSeed), seq)
	if err != nil {
		return err
	}
	if !expected.Equals(contextInfo.Key) {
		return fmt.Errorf("%w: context %d is %s", ErrInvalidContext, counter.Count, expected)
	}
	state := Context{Sequence: counter.Count, Label: args.Label}
	if err := writeState(ic, payer, contextInfo, contextName, state,
		[][]byte{[]byte(ContextSeed), seq, {bump}}, 0); err != nil {
		return err
	}

	if counter.Count == ^uint32(0) {
		return ledger.ErrArithmeticOverflow
	}
	counter.Count++
	data, err := ledger.EncodeAccount(counterName, *counter)
	if err != nil {
		return err
	}
	counterInfo.SetData(data)

	ic.Logf("Instruction: CreateContext %d %q", state.Sequence, args.Label)
	ic.Emit(EventContextCreated, map[string]string{
		"context":  contextInfo.Key.String(),
		"sequence": strconv.FormatUint(uint64(state.Sequence), 10),
	})
	return nil
}

func (Program) request(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args requestArgs) error {
	if len(accounts) < 4 {
		return ledger.ErrNotEnoughAccountKeys
	}
	payer, interaction, contextInfo := accounts[0], accounts[1], accounts[2]
	if err := requireSigner(payer); err != nil {
		return err
	}
	if !contextInfo.IsOwnedBy(ic.ProgramID()) {
		return ErrInvalidContext
	}
	if _, err := DecodeContext(contextInfo.Data()); err != nil {
		return ErrInvalidContext
	}

	expected, bump, err := ledger.DeriveAddress(ic.ProgramID(), []byte(InteractionSeed), payer.Key.Bytes(), contextInfo.Key.Bytes())
	if err != nil {
		return err
	}
	if !expected.Equals(interaction.Key) {
		return ErrInvalidAddress
	}
	state := Interaction{
		Requester: payer.Key,
		Context:   contextInfo.Key,
		Prompt:    args.Prompt,
		Callback:  args.Callback,
	}
	seeds := [][]byte{[]byte(InteractionSeed), payer.Key.Bytes(), contextInfo.Key.Bytes(), {bump}}
	if err := writeState(ic, payer, interaction, interactionName, state, seeds, ResultReserve); err != nil {
		return err
	}

	ic.Logf("Instruction: Request %s", interaction.Key)
	ic.Emit(EventInteractionRequest, map[string]string{
		"interaction": interaction.Key.String(),
		"context":     contextInfo.Key.String(),
		"requester":   payer.Key.String(),
		"callback":    args.Callback.ProgramID.String(),
	})
	return nil
}

func (Program) respond(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args respondArgs) error {
	if len(accounts) < 3 {
		return ledger.ErrNotEnoughAccountKeys
	}
	authority, identityInfo, interactionInfo := accounts[0], accounts[1], accounts[2]

	identityAddr, _ := IdentityAddress()
	if !identityInfo.Key.Equals(identityAddr) || !identityInfo.IsOwnedBy(ic.ProgramID()) {
		return ErrNotInitialized
	}
	identity, err := DecodeIdentity(identityInfo.Data())
	if err != nil {
		return err
	}
	if !authority.IsSigner || !identity.Verifier().Verify(authority.Key) {
		return ErrNotAuthorized
	}

	if !interactionInfo.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: interaction %s", ledger.ErrInvalidAccountData, interactionInfo.Key)
	}
	interaction, err := DecodeInteraction(interactionInfo.Data())
	if err != nil {
		return err
	}
	if interaction.IsProcessed {
		return ErrAlreadyProcessed
	}

	interaction.IsProcessed = true
	interaction.Result = args.Result
	data, err := ledger.EncodeAccount(interactionName, *interaction)
	if err != nil {
		return err
	}
	// A result longer than the reserve is paid for by the authority.
	if need := ic.MinimumBalance(len(data)); need > interactionInfo.Lamports() {
		topUp := need - interactionInfo.Lamports()
		if err := ic.Invoke(ledger.TransferInstruction(authority.Key, interactionInfo.Key, topUp)); err != nil {
			return err
		}
	}
	interactionInfo.SetData(data)
	ic.Logf("Instruction: Respond %s %q", interactionInfo.Key, args.Result)
	ic.Emit(EventInteractionDone, map[string]string{
		"interaction": interactionInfo.Key.String(),
		"result":      args.Result,
	})

	if !interaction.HasCallback() {
		return nil
	}
	cb := interaction.Callback
	if len(accounts) < 4 {
		return ErrCallbackAccountMismatch
	}
	callbackProgram, rest := accounts[3], accounts[4:]
	if !callbackProgram.Key.Equals(cb.ProgramID) || len(rest) != len(cb.Accounts) {
		return ErrCallbackAccountMismatch
	}
	for i, meta := range cb.Accounts {
		if !rest[i].Key.Equals(meta.PublicKey) {
			return ErrCallbackAccountMismatch
		}
	}

	body, err := borsh.Serialize(args.Result)
	if err != nil {
		return fmt.Errorf("failed to encode callback result: %w", err)
	}
	ix := ledger.Instruction{
		ProgramID: cb.ProgramID,
		Accounts: append([]ledger.AccountMeta{
			ledger.Meta(identityInfo.Key, true, false),
			ledger.Meta(interactionInfo.Key, false, false),
		}, cb.Accounts...),
		Data: append(cb.Discriminator[:], body...),
	}
	return ic.Invoke(ix, [][]byte{[]byte(IdentitySeed), {identity.Bump}})
}
