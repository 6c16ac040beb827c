package escrow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
)

// Instruction names, hashed into discriminators.
const (
	MakeName               = "make"
	TakeName               = "take"
	RefundName             = "refund"
	OpenDisputeName        = "open_dispute"
	ResolveDisputeName     = "resolve_dispute"
	ResolveDisputeMockName = "resolve_dispute_mock"
)

// Events emitted by the escrow program.
const (
	EventCreated  = "escrow.created"
	EventTaken    = "escrow.taken"
	EventRefunded = "escrow.refunded"
	EventDisputed = "escrow.disputed"
	EventResolved = "escrow.resolved"
)

// Decisions accepted by resolve_dispute.
const (
	DecisionMaker = "maker"
	DecisionTaker = "taker"
)

var (
	makeDisc        = ledger.InstructionDiscriminator(MakeName)
	takeDisc        = ledger.InstructionDiscriminator(TakeName)
	refundDisc      = ledger.InstructionDiscriminator(RefundName)
	openDisputeDisc = ledger.InstructionDiscriminator(OpenDisputeName)
	resolveDisc     = ledger.InstructionDiscriminator(ResolveDisputeName)
	resolveMockDisc = ledger.InstructionDiscriminator(ResolveDisputeMockName)
)

type makeArgs struct {
	Seed    uint64
	Receive uint64
	Deposit uint64
}

type openDisputeArgs struct {
	Narrative string
}

type resolveArgs struct {
	Decision string
}

// Option configures the escrow program.
type Option func(*Program)

// WithMockResolve enables resolve_dispute_mock, which settles a dispute
// without an oracle signature. Test deployments only.
func WithMockResolve() Option {
	return func(p *Program) { p.mockResolve = true }
}

// Program is the escrow program.
type Program struct {
	mockResolve bool
}

func NewProgram(opts ...Option) *Program {
	p := &Program{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (*Program) Name() string { return "escrow" }

func (p *Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	disc, ok := ledger.SplitDiscriminator(data)
	if !ok {
		return ledger.ErrInvalidInstructionData
	}
	switch disc {
	case makeDisc:
		var args makeArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.make(ic, accounts, args)
	case takeDisc:
		return p.take(ic, accounts)
	case refundDisc:
		return p.refund(ic, accounts)
	case openDisputeDisc:
		var args openDisputeArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.openDispute(ic, accounts, args)
	case resolveDisc:
		var args resolveArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.resolve(ic, accounts, args, false)
	case resolveMockDisc:
		if !p.mockResolve {
			return ErrMockResolveDisabled
		}
		var args resolveArgs
		if err := ledger.DecodeArgs(data, &args); err != nil {
			return err
		}
		return p.resolve(ic, accounts, args, true)
	default:
		return ledger.ErrInvalidInstructionData
	}
}

// ParseDecision normalizes a resolution decision to maker or taker.
func ParseDecision(decision string) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(decision)); d {
	case DecisionMaker, DecisionTaker:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
}

// settles reports whether info is an oracle interaction whose callback
// resolves the escrow at addr.
func settles(info *ledger.AccountInfo, addr solana.PublicKey) bool {
	if !info.IsOwnedBy(oracle.ProgramID) {
		return false
	}
	in, err := oracle.DecodeInteraction(info.Data())
	if err != nil {
		return false
	}
	target, ok := DisputedEscrow(in)
	return ok && target.Equals(addr)
}

// loadEscrow decodes the escrow and checks that it lives at its derived address.
func loadEscrow(ic *ledger.InvokeContext, info *ledger.AccountInfo) (*Escrow, error) {
	if !info.IsOwnedBy(ic.ProgramID()) {
		return nil, fmt.Errorf("%w: escrow %s", ledger.ErrIllegalOwner, info.Key)
	}
	state, err := DecodeEscrow(info.Data())
	if err != nil {
		return nil, err
	}
	err = ledger.VerifyAddress(ic.ProgramID(), info.Key, state.Bump, []byte(Seed), state.Maker.Bytes(), ledger.U64Seed(state.Seed))
	if err != nil {
		return nil, ErrInvalidAddress
	}
	return state, nil
}

func saveEscrow(info *ledger.AccountInfo, state *Escrow) error {
	data, err := state.encode()
	if err != nil {
		return err
	}
	info.SetData(data)
	return nil
}

func expectKey(info *ledger.AccountInfo, want solana.PublicKey) error {
	if !info.Key.Equals(want) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidAddress, want, info.Key)
	}
	return nil
}

func mintDecimals(info *ledger.AccountInfo) (uint8, error) {
	if !info.IsOwnedBy(token.ProgramID) {
		return 0, fmt.Errorf("%w: mint %s", ledger.ErrIllegalOwner, info.Key)
	}
	mint, err := token.DecodeMint(info.Data())
	if err != nil {
		return 0, err
	}
	return mint.Decimals, nil
}

func (p *Program) make(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args makeArgs) error {
	if len(accounts) < 9 {
		return ledger.ErrNotEnoughAccountKeys
	}
	maker, mintA, mintB, makerATA, escrowInfo, vault := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5]
	if !maker.IsSigner {
		return fmt.Errorf("%w: maker %s", ledger.ErrMissingSignature, maker.Key)
	}
	if args.Deposit == 0 {
		return ErrInvalidAmount
	}
	addr, bump := Address(maker.Key, args.Seed)
	if err := expectKey(escrowInfo, addr); err != nil {
		return err
	}
	if err := expectKey(vault, VaultAddress(addr, mintA.Key)); err != nil {
		return err
	}
	decimals, err := mintDecimals(mintA)
	if err != nil {
		return err
	}
	if _, err := mintDecimals(mintB); err != nil {
		return err
	}

	state := &Escrow{
		Seed:    args.Seed,
		Maker:   maker.Key,
		MintA:   mintA.Key,
		MintB:   mintB.Key,
		Receive: args.Receive,
		Deposit: args.Deposit,
		Status:  StatusCreated,
		Bump:    bump,
	}
	if err := ic.CreateProgramAccount(maker, escrowInfo, Size, state.signerSeeds()); err != nil {
		return err
	}
	if err := saveEscrow(escrowInfo, state); err != nil {
		return err
	}
	if err := ic.Invoke(token.CreateAssociatedInstruction(maker.Key, escrowInfo.Key, mintA.Key, false)); err != nil {
		return err
	}
	deposit := token.TransferCheckedInstruction(makerATA.Key, mintA.Key, vault.Key, maker.Key, args.Deposit, decimals)
	if err := ic.Invoke(deposit); err != nil {
		return err
	}

	ic.Logf("Instruction: Make seed=%d deposit=%d receive=%d", args.Seed, args.Deposit, args.Receive)
	ic.Emit(EventCreated, map[string]string{
		"escrow":  escrowInfo.Key.String(),
		"maker":   maker.Key.String(),
		"seed":    strconv.FormatUint(args.Seed, 10),
		"deposit": strconv.FormatUint(args.Deposit, 10),
		"receive": strconv.FormatUint(args.Receive, 10),
	})
	return nil
}

func (p *Program) take(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 12 {
		return ledger.ErrNotEnoughAccountKeys
	}
	taker, maker, mintA, mintB := accounts[0], accounts[1], accounts[2], accounts[3]
	takerATAA, takerATAB, makerATAB, escrowInfo, vault := accounts[4], accounts[5], accounts[6], accounts[7], accounts[8]
	if !taker.IsSigner {
		return fmt.Errorf("%w: taker %s", ledger.ErrMissingSignature, taker.Key)
	}
	state, err := loadEscrow(ic, escrowInfo)
	if err != nil {
		return err
	}
	if state.Status != StatusCreated {
		return ErrNotCreated
	}
	if !state.Taker.IsZero() && !state.Taker.Equals(taker.Key) {
		return ErrTakerMismatch
	}
	for _, check := range []struct {
		info *ledger.AccountInfo
		want solana.PublicKey
	}{
		{maker, state.Maker},
		{mintA, state.MintA},
		{mintB, state.MintB},
		{vault, state.Vault(escrowInfo.Key)},
	} {
		if err := expectKey(check.info, check.want); err != nil {
			return err
		}
	}
	decimalsB, err := mintDecimals(mintB)
	if err != nil {
		return err
	}

	for _, ix := range []ledger.Instruction{
		token.CreateAssociatedInstruction(taker.Key, taker.Key, mintA.Key, true),
		token.CreateAssociatedInstruction(taker.Key, maker.Key, mintB.Key, true),
		token.TransferCheckedInstruction(takerATAB.Key, mintB.Key, makerATAB.Key, taker.Key, state.Receive, decimalsB),
	} {
		if err := ic.Invoke(ix); err != nil {
			return err
		}
	}
	amount, err := p.release(ic, state, escrowInfo, vault, mintA, takerATAA, maker)
	if err != nil {
		return err
	}

	ic.Logf("Instruction: Take %s by %s", escrowInfo.Key, taker.Key)
	ic.Emit(EventTaken, map[string]string{
		"escrow": escrowInfo.Key.String(),
		"taker":  taker.Key.String(),
		"amount": strconv.FormatUint(amount, 10),
	})
	return escrowInfo.Close(maker)
}

func (p *Program) refund(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 7 {
		return ledger.ErrNotEnoughAccountKeys
	}
	maker, mintA, makerATA, escrowInfo, vault := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]
	state, err := loadEscrow(ic, escrowInfo)
	if err != nil {
		return err
	}
	if err := expectKey(maker, state.Maker); err != nil {
		return err
	}
	if !maker.IsSigner {
		return fmt.Errorf("%w: maker %s", ledger.ErrMissingSignature, maker.Key)
	}
	if state.Status != StatusCreated {
		return ErrNotCreated
	}
	if err := expectKey(mintA, state.MintA); err != nil {
		return err
	}
	if err := expectKey(vault, state.Vault(escrowInfo.Key)); err != nil {
		return err
	}
	amount, err := p.release(ic, state, escrowInfo, vault, mintA, makerATA, maker)
	if err != nil {
		return err
	}

	ic.Logf("Instruction: Refund %s", escrowInfo.Key)
	ic.Emit(EventRefunded, map[string]string{
		"escrow": escrowInfo.Key.String(),
		"amount": strconv.FormatUint(amount, 10),
	})
	return escrowInfo.Close(maker)
}

// release empties the vault into dest and closes it with rent to the maker.
func (p *Program) release(ic *ledger.InvokeContext, state *Escrow, escrowInfo, vault, mintA, dest, maker *ledger.AccountInfo) (uint64, error) {
	if !vault.IsOwnedBy(token.ProgramID) {
		return 0, fmt.Errorf("%w: vault %s", ledger.ErrIllegalOwner, vault.Key)
	}
	held, err := token.DecodeAccount(vault.Data())
	if err != nil {
		return 0, err
	}
	decimals, err := mintDecimals(mintA)
	if err != nil {
		return 0, err
	}
	seeds := state.signerSeeds()
	transfer := token.TransferCheckedInstruction(vault.Key, mintA.Key, dest.Key, escrowInfo.Key, held.Amount, decimals)
	if err := ic.Invoke(transfer, seeds); err != nil {
		return 0, err
	}
	if err := ic.Invoke(token.CloseAccountInstruction(vault.Key, maker.Key, escrowInfo.Key), seeds); err != nil {
		return 0, err
	}
	return held.Amount, nil
}

func (p *Program) openDispute(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args openDisputeArgs) error {
	if len(accounts) < 15 {
		return ledger.ErrNotEnoughAccountKeys
	}
	payer, escrowInfo, maker, taker, mintA, mintB, vault := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5], accounts[6]
	interaction, contextInfo, oracleProgram := accounts[7], accounts[8], accounts[9]
	makerATA, takerATA := accounts[13], accounts[14]
	if !payer.IsSigner {
		return fmt.Errorf("%w: payer %s", ledger.ErrMissingSignature, payer.Key)
	}
	state, err := loadEscrow(ic, escrowInfo)
	if err != nil {
		return err
	}
	if state.Status != StatusCreated {
		return ErrNotCreated
	}
	if !state.Taker.IsZero() && !state.Taker.Equals(taker.Key) {
		return ErrTakerMismatch
	}
	for _, check := range []struct {
		info *ledger.AccountInfo
		want solana.PublicKey
	}{
		{maker, state.Maker},
		{mintA, state.MintA},
		{mintB, state.MintB},
		{vault, state.Vault(escrowInfo.Key)},
		{interaction, oracle.InteractionAddress(payer.Key, contextInfo.Key)},
		{oracleProgram, oracle.ProgramID},
	} {
		if err := expectKey(check.info, check.want); err != nil {
			return err
		}
	}

	for _, party := range []solana.PublicKey{maker.Key, taker.Key} {
		if err := ic.Invoke(token.CreateAssociatedInstruction(payer.Key, party, mintA.Key, true)); err != nil {
			return err
		}
	}

	state.Taker = taker.Key
	state.Status = StatusDisputed
	state.Interaction = interaction.Key
	if err := saveEscrow(escrowInfo, state); err != nil {
		return err
	}

	callback := oracle.Callback{
		ProgramID:     ic.ProgramID(),
		Discriminator: resolveDisc,
		Accounts:      ResolveAccounts(escrowInfo.Key, state, makerATA.Key, takerATA.Key),
	}
	if err := ic.Invoke(oracle.RequestInstruction(payer.Key, contextInfo.Key, args.Narrative, callback)); err != nil {
		return err
	}

	ic.Logf("Instruction: OpenDispute %s interaction=%s", escrowInfo.Key, interaction.Key)
	ic.Emit(EventDisputed, map[string]string{
		"escrow":      escrowInfo.Key.String(),
		"interaction": interaction.Key.String(),
		"taker":       taker.Key.String(),
	})
	return nil
}

// resolve settles a disputed escrow in favour of decision. Accounts: identity,
// interaction, then the accounts of ResolveAccounts.
func (p *Program) resolve(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args resolveArgs, mock bool) error {
	if len(accounts) < 13 {
		return ledger.ErrNotEnoughAccountKeys
	}
	identity, interaction := accounts[0], accounts[1]
	maker, taker, mintA, mintB, escrowInfo, vault := accounts[2], accounts[3], accounts[4], accounts[5], accounts[6], accounts[7]
	makerATA, takerATA := accounts[8], accounts[9]

	if !mock {
		identityAddr, _ := oracle.IdentityAddress()
		if !identity.Key.Equals(identityAddr) || !identity.IsSigner {
			return ErrUnauthorizedCallback
		}
	}

	// A settled dispute closes its escrow, so a later answer to the same
	// interaction finds it empty.
	if escrowInfo.IsEmpty() && settles(interaction, escrowInfo.Key) {
		return ErrAlreadyProcessed
	}
	state, err := loadEscrow(ic, escrowInfo)
	if err != nil {
		return err
	}
	if state.Status != StatusDisputed {
		return ErrNotDisputed
	}
	if !interaction.Key.Equals(state.Interaction) {
		return ErrInteractionMismatch
	}
	if mock {
		in, err := oracle.DecodeInteraction(interaction.Data())
		if err != nil {
			return err
		}
		if in.IsProcessed {
			return ErrAlreadyProcessed
		}
	}
	decision, err := ParseDecision(args.Decision)
	if err != nil {
		return err
	}
	for _, check := range []struct {
		info *ledger.AccountInfo
		want solana.PublicKey
	}{
		{maker, state.Maker},
		{taker, state.Taker},
		{mintA, state.MintA},
		{mintB, state.MintB},
		{vault, state.Vault(escrowInfo.Key)},
		{makerATA, token.MustAssociatedAddress(state.Maker, state.MintA)},
		{takerATA, token.MustAssociatedAddress(state.Taker, state.MintA)},
	} {
		if err := expectKey(check.info, check.want); err != nil {
			return err
		}
	}

	winner, dest := maker, makerATA
	if decision == DecisionTaker {
		winner, dest = taker, takerATA
	}
	amount, err := p.release(ic, state, escrowInfo, vault, mintA, dest, maker)
	if err != nil {
		return err
	}
	state.Status = StatusResolved
	if err := saveEscrow(escrowInfo, state); err != nil {
		return err
	}

	ic.Logf("Instruction: ResolveDispute %s winner=%s", escrowInfo.Key, decision)
	ic.Emit(EventResolved, map[string]string{
		"escrow":      escrowInfo.Key.String(),
		"interaction": interaction.Key.String(),
		"decision":    decision,
		"winner":      winner.Key.String(),
		"amount":      strconv.FormatUint(amount, 10),
		"status":      state.Status.String(),
	})
	return escrowInfo.Close(maker)
}
