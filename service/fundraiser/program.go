package fundraiser

import (
	"fmt"
	"strconv"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/token"
	"github.com/near/borsh-go"
)

// Instruction tags.
const (
	TagInitialize uint8 = iota
	TagContribute
	TagChecker
	TagRefund
)

const (
	EventInitialized = "fundraiser.initialized"
	EventContributed = "fundraiser.contributed"
	EventCollected   = "fundraiser.collected"
	EventRefunded    = "fundraiser.refunded"
)

type initializeArgs struct {
	Tag           uint8
	Bump          uint8
	AmountToRaise uint64
	CurrentAmount uint64
	TimeStarted   uint64
	Duration      uint8
}

type contributeArgs struct {
	Tag    uint8
	Amount uint64
}

// Program is the fundraiser program.
type Program struct{}

func (Program) Name() string { return "fundraiser" }

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ledger.ErrInvalidInstructionData
	}
	switch data[0] {
	case TagInitialize:
		var args initializeArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.initialize(ic, accounts, args)
	case TagContribute:
		var args contributeArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.contribute(ic, accounts, args.Amount)
	case TagChecker:
		return p.checkContributions(ic, accounts)
	case TagRefund:
		return p.refund(ic, accounts)
	default:
		return ledger.ErrInvalidInstructionData
	}
}

func decodeArgs(data []byte, v any) error {
	if err := borsh.Deserialize(v, data); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidInstructionData, err)
	}
	return nil
}

func loadFundraiser(ic *ledger.InvokeContext, info *ledger.AccountInfo) (*Fundraiser, error) {
	if !info.IsOwnedBy(ic.ProgramID()) {
		return nil, fmt.Errorf("%w: fundraiser %s", ledger.ErrIllegalOwner, info.Key)
	}
	f, err := DecodeFundraiser(info.Data())
	if err != nil {
		return nil, err
	}
	if err := ledger.VerifyAddress(ic.ProgramID(), info.Key, f.Bump, []byte(FundraiserSeed), f.Maker.Bytes()); err != nil {
		return nil, err
	}
	return f, nil
}

// store writes v, which must be a value: borsh encodes pointers as options.
func store(info *ledger.AccountInfo, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	info.SetData(data)
	return nil
}

func vaultAmount(f *Fundraiser, fundraiser, vault *ledger.AccountInfo) (uint64, error) {
	if !vault.Key.Equals(VaultAddress(fundraiser.Key, f.Mint)) || !vault.IsOwnedBy(token.ProgramID) {
		return 0, fmt.Errorf("%w: vault %s", ledger.ErrInvalidSeeds, vault.Key)
	}
	acct, err := token.DecodeAccount(vault.Data())
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
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

func pow10(decimals uint8) uint64 {
	n := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		n *= 10
	}
	return n
}

func (Program) initialize(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args initializeArgs) error {
	if len(accounts) < 7 {
		return ledger.ErrNotEnoughAccountKeys
	}
	maker, mint, fundraiser, vault := accounts[0], accounts[1], accounts[2], accounts[3]
	if !maker.IsSigner {
		return fmt.Errorf("%w: maker %s", ledger.ErrMissingSignature, maker.Key)
	}
	if err := ledger.VerifyAddress(ic.ProgramID(), fundraiser.Key, args.Bump, []byte(FundraiserSeed), maker.Key.Bytes()); err != nil {
		return err
	}
	if fundraiser.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: fundraiser %s already initialized", ledger.ErrIllegalOwner, fundraiser.Key)
	}
	decimals, err := mintDecimals(mint)
	if err != nil {
		return err
	}
	if args.AmountToRaise < MinAmountToRaise*pow10(decimals) {
		return ErrInvalidAmount
	}

	state := &Fundraiser{
		Maker:         maker.Key,
		Mint:          mint.Key,
		AmountToRaise: args.AmountToRaise,
		CurrentAmount: args.CurrentAmount,
		TimeStarted:   args.TimeStarted,
		Duration:      args.Duration,
		Bump:          args.Bump,
	}
	if err := ic.CreateProgramAccount(maker, fundraiser, FundraiserSize, state.signerSeeds()); err != nil {
		return err
	}
	if err := store(fundraiser, *state); err != nil {
		return err
	}
	if !vault.Key.Equals(VaultAddress(fundraiser.Key, mint.Key)) {
		return fmt.Errorf("%w: vault %s", ledger.ErrInvalidSeeds, vault.Key)
	}
	if err := ic.Invoke(token.CreateAssociatedInstruction(maker.Key, fundraiser.Key, mint.Key, false)); err != nil {
		return err
	}

	ic.Logf("Instruction: Initialize target=%d duration=%d", args.AmountToRaise, args.Duration)
	ic.Emit(EventInitialized, map[string]string{
		"fundraiser":      fundraiser.Key.String(),
		"maker":           maker.Key.String(),
		"amount_to_raise": strconv.FormatUint(args.AmountToRaise, 10),
	})
	return nil
}

func (Program) contribute(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, amount uint64) error {
	if len(accounts) < 8 {
		return ledger.ErrNotEnoughAccountKeys
	}
	contributor, mint, fundraiser, contributorAcct, contributorATA, vault := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5]
	if !contributor.IsSigner {
		return fmt.Errorf("%w: contributor %s", ledger.ErrMissingSignature, contributor.Key)
	}
	state, err := loadFundraiser(ic, fundraiser)
	if err != nil {
		return err
	}
	if !mint.Key.Equals(state.Mint) {
		return token.ErrMintMismatch
	}
	if !vault.Key.Equals(VaultAddress(fundraiser.Key, state.Mint)) {
		return fmt.Errorf("%w: vault %s", ledger.ErrInvalidSeeds, vault.Key)
	}

	seeds := [][]byte{[]byte(ContributorSeed), fundraiser.Key.Bytes(), contributor.Key.Bytes()}
	expected, bump, err := ledger.DeriveAddress(ic.ProgramID(), seeds...)
	if err != nil {
		return err
	}
	if !expected.Equals(contributorAcct.Key) {
		return fmt.Errorf("%w: contributor account %s", ledger.ErrInvalidSeeds, contributorAcct.Key)
	}
	if contributorAcct.IsEmpty() {
		if err := ic.CreateProgramAccount(contributor, contributorAcct, ContributorSize, append(seeds, []byte{bump})); err != nil {
			return err
		}
		if err := store(contributorAcct, Contributor{}); err != nil {
			return err
		}
	}
	record, err := DecodeContributor(contributorAcct.Data())
	if err != nil {
		return err
	}

	decimals, err := mintDecimals(mint)
	if err != nil {
		return err
	}
	if amount < pow10(decimals) {
		return ErrContributionTooSmall
	}
	maxPer := state.MaxPerContributor()
	if amount > maxPer {
		return ErrContributionTooBig
	}
	if state.Ended(ic.Now().Unix()) {
		return ErrFundraiserEnded
	}
	if record.Amount+amount > maxPer || record.Amount+amount < record.Amount {
		return ErrMaximumContributionsReached
	}

	if err := ic.Invoke(token.TransferInstruction(contributorATA.Key, vault.Key, contributor.Key, amount)); err != nil {
		return err
	}
	record.Amount += amount
	state.CurrentAmount += amount
	if err := store(contributorAcct, *record); err != nil {
		return err
	}
	if err := store(fundraiser, *state); err != nil {
		return err
	}

	ic.Logf("Instruction: Contribute %d from %s", amount, contributor.Key)
	ic.Emit(EventContributed, map[string]string{
		"fundraiser":     fundraiser.Key.String(),
		"contributor":    contributor.Key.String(),
		"amount":         strconv.FormatUint(amount, 10),
		"current_amount": strconv.FormatUint(state.CurrentAmount, 10),
	})
	return nil
}

func (Program) checkContributions(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 8 {
		return ledger.ErrNotEnoughAccountKeys
	}
	maker, mint, fundraiser, vault, makerATA := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]
	state, err := loadFundraiser(ic, fundraiser)
	if err != nil {
		return err
	}
	if !maker.Key.Equals(state.Maker) {
		return fmt.Errorf("%w: maker %s", token.ErrOwnerMismatch, maker.Key)
	}
	if !maker.IsSigner {
		return fmt.Errorf("%w: maker %s", ledger.ErrMissingSignature, maker.Key)
	}
	if err := ic.Invoke(token.CreateAssociatedInstruction(maker.Key, maker.Key, mint.Key, true)); err != nil {
		return err
	}
	held, err := vaultAmount(state, fundraiser, vault)
	if err != nil {
		return err
	}
	if held < state.AmountToRaise {
		return ErrTargetNotMet
	}
	if err := ic.Invoke(token.TransferInstruction(vault.Key, makerATA.Key, fundraiser.Key, held), state.signerSeeds()); err != nil {
		return err
	}

	ic.Logf("Instruction: Checker collected %d", held)
	ic.Emit(EventCollected, map[string]string{
		"fundraiser": fundraiser.Key.String(),
		"amount":     strconv.FormatUint(held, 10),
	})
	return nil
}

func (Program) refund(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 9 {
		return ledger.ErrNotEnoughAccountKeys
	}
	contributor, maker, fundraiser, contributorAcct, contributorATA, vault := accounts[0], accounts[1], accounts[3], accounts[4], accounts[5], accounts[6]
	if !contributor.IsSigner {
		return fmt.Errorf("%w: contributor %s", ledger.ErrMissingSignature, contributor.Key)
	}
	state, err := loadFundraiser(ic, fundraiser)
	if err != nil {
		return err
	}
	if !maker.Key.Equals(state.Maker) {
		return fmt.Errorf("%w: maker %s", token.ErrOwnerMismatch, maker.Key)
	}
	if !contributorAcct.Key.Equals(ContributorAddress(fundraiser.Key, contributor.Key)) || !contributorAcct.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: contributor account %s", ledger.ErrInvalidSeeds, contributorAcct.Key)
	}
	record, err := DecodeContributor(contributorAcct.Data())
	if err != nil {
		return err
	}

	if !state.Ended(ic.Now().Unix()) {
		return ErrFundraiserNotEnded
	}
	held, err := vaultAmount(state, fundraiser, vault)
	if err != nil {
		return err
	}
	if held >= state.AmountToRaise {
		return ErrTargetMet
	}

	amount := record.Amount
	if amount > 0 {
		if err := ic.Invoke(token.TransferInstruction(vault.Key, contributorATA.Key, fundraiser.Key, amount), state.signerSeeds()); err != nil {
			return err
		}
	}
	record.Amount = 0
	if state.CurrentAmount >= amount {
		state.CurrentAmount -= amount
	} else {
		state.CurrentAmount = 0
	}
	if err := store(contributorAcct, *record); err != nil {
		return err
	}
	if err := store(fundraiser, *state); err != nil {
		return err
	}

	ic.Logf("Instruction: Refund %d to %s", amount, contributor.Key)
	ic.Emit(EventRefunded, map[string]string{
		"fundraiser":  fundraiser.Key.String(),
		"contributor": contributor.Key.String(),
		"amount":      strconv.FormatUint(amount, 10),
	})
	return nil
}
