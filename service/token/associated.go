package token

import (
	"fmt"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
)

const (
	tagCreate           uint8 = 0
	tagCreateIdempotent uint8 = 1
)

// AssociatedProgram creates the canonical token account of a wallet for a mint.
//
// Accounts: payer(s,w), associated account(w), wallet, mint, system program, token program.
type AssociatedProgram struct{}

func (AssociatedProgram) Name() string { return "associated-token" }

func (AssociatedProgram) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	idempotent := len(data) > 0 && data[0] == tagCreateIdempotent
	if len(data) > 0 && data[0] != tagCreate && data[0] != tagCreateIdempotent {
		return ledger.ErrInvalidInstructionData
	}
	if len(accounts) < 6 {
		return ledger.ErrNotEnoughAccountKeys
	}
	payer, ata, wallet, mint, system, tokenProgram := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5]
	if !tokenProgram.Key.Equals(ProgramID) || !system.Key.Equals(solana.SystemProgramID) {
		return ledger.ErrIllegalOwner
	}

	seeds := [][]byte{wallet.Key.Bytes(), ProgramID.Bytes(), mint.Key.Bytes()}
	expected, bump, err := ledger.DeriveAddress(ic.ProgramID(), seeds...)
	if err != nil {
		return err
	}
	if !expected.Equals(ata.Key) {
		return fmt.Errorf("%w: associated address for %s/%s is %s", ledger.ErrInvalidSeeds, wallet.Key, mint.Key, expected)
	}

	if !ata.IsEmpty() {
		if idempotent && ata.IsOwnedBy(ProgramID) {
			existing, err := DecodeAccount(ata.Data())
			if err == nil && existing.Owner.Equals(wallet.Key) && existing.Mint.Equals(mint.Key) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ledger.ErrAccountAlreadyInUse, ata.Key)
	}

	create := ledger.CreateAccountInstruction(payer.Key, ata.Key, ic.MinimumBalance(AccountSize), AccountSize, ProgramID)
	if err := ic.Invoke(create, append(seeds, []byte{bump})); err != nil {
		return err
	}
	return ic.Invoke(InitializeAccountInstruction(ata.Key, mint.Key, wallet.Key))
}

// AssociatedAddress returns the canonical token account of wallet for mint.
func AssociatedAddress(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	return ledger.AssociatedTokenAddress(wallet, mint)
}

// MustAssociatedAddress is AssociatedAddress for callers holding valid keys.
func MustAssociatedAddress(wallet, mint solana.PublicKey) solana.PublicKey {
	addr, err := AssociatedAddress(wallet, mint)
	if err != nil {
		panic(err)
	}
	return addr
}
