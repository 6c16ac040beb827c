// Package token implements the fungible token ledger programs: mints and token
// accounts, and the associated token account program that derives a canonical
// token account per (wallet, mint).
package token

import (
	"bytes"
	"fmt"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// ProgramID and AssociatedProgramID are the well-known token program addresses.
var (
	ProgramID           = solana.TokenProgramID
	AssociatedProgramID = solana.SPLAssociatedTokenAccountProgramID
)

const (
	mintName    = "Mint"
	accountName = "TokenAccount"
)

// Sizes of encoded state, discriminator included.
const (
	MintSize    = 8 + 32 + 8 + 1 + 1
	AccountSize = 8 + 32 + 32 + 8 + 1
)

// Token account states.
const (
	StateUninitialized uint8 = 0
	StateInitialized   uint8 = 1
)

// Mint describes a token type.
type Mint struct {
	MintAuthority solana.PublicKey `json:"mint_authority"`
	Supply        uint64           `json:"supply"`
	Decimals      uint8            `json:"decimals"`
	IsInitialized bool             `json:"is_initialized"`
}

// Account holds a balance of one mint on behalf of an owner.
type Account struct {
	Mint   solana.PublicKey `json:"mint"`
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
	State  uint8            `json:"state"`
}

// Token program errors, numbered as in the SPL token program.
var (
	ErrInsufficientFunds   = ledger.NewProgramError(1, "InsufficientFunds", "insufficient funds")
	ErrMintMismatch        = ledger.NewProgramError(3, "MintMismatch", "account not associated with this mint")
	ErrOwnerMismatch       = ledger.NewProgramError(4, "OwnerMismatch", "owner does not match")
	ErrAlreadyInUse        = ledger.NewProgramError(6, "AlreadyInUse", "account or token already in use")
	ErrUninitializedState  = ledger.NewProgramError(9, "UninitializedState", "state is uninitialized")
	ErrNonNativeHasBalance = ledger.NewProgramError(11, "NonNativeHasBalance", "non-native account can only be closed if its balance is zero")
	ErrOverflow            = ledger.NewProgramError(14, "Overflow", "operation overflowed")
	ErrDecimalsMismatch    = ledger.NewProgramError(18, "MintDecimalsMismatch", "the provided decimals value different from the mint decimals")
)

// DecodeMint decodes mint state.
func DecodeMint(data []byte) (*Mint, error) {
	var m Mint
	if err := ledger.DecodeAccount(mintName, data, &m); err != nil {
		return nil, err
	}
	if !m.IsInitialized {
		return nil, ErrUninitializedState
	}
	return &m, nil
}

// DecodeAccount decodes token account state.
func DecodeAccount(data []byte) (*Account, error) {
	var a Account
	if err := ledger.DecodeAccount(accountName, data, &a); err != nil {
		return nil, err
	}
	if a.State != StateInitialized {
		return nil, ErrUninitializedState
	}
	return &a, nil
}

func encodeMint(m *Mint) ([]byte, error)       { return ledger.EncodeAccount(mintName, *m) }
func encodeAccount(a *Account) ([]byte, error) { return ledger.EncodeAccount(accountName, *a) }

func isZeroed(data []byte) bool {
	return len(bytes.Trim(data, "\x00")) == 0
}

// Instruction tags.
const (
	tagTransfer          uint8 = 3
	tagMintTo            uint8 = 7
	tagCloseAccount      uint8 = 9
	tagTransferChecked   uint8 = 12
	tagInitializeAccount uint8 = 18
	tagInitializeMint    uint8 = 20
)

type initializeMintArgs struct {
	Tag           uint8
	Decimals      uint8
	MintAuthority solana.PublicKey
}

type initializeAccountArgs struct {
	Tag   uint8
	Owner solana.PublicKey
}

type amountArgs struct {
	Tag    uint8
	Amount uint64
}

type transferCheckedArgs struct {
	Tag      uint8
	Amount   uint64
	Decimals uint8
}

// Program is the token program.
type Program struct{}

func (Program) Name() string { return "token" }

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ledger.ErrInvalidInstructionData
	}
	switch data[0] {
	case tagInitializeMint:
		var args initializeMintArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.initializeMint(ic, accounts, args)
	case tagInitializeAccount:
		var args initializeAccountArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.initializeAccount(ic, accounts, args)
	case tagMintTo:
		var args amountArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.mintTo(ic, accounts, args.Amount)
	case tagTransfer:
		var args amountArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		if len(accounts) < 3 {
			return ledger.ErrNotEnoughAccountKeys
		}
		return p.transfer(ic, accounts[0], nil, accounts[1], accounts[2], args.Amount, nil)
	case tagTransferChecked:
		var args transferCheckedArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		if len(accounts) < 4 {
			return ledger.ErrNotEnoughAccountKeys
		}
		return p.transfer(ic, accounts[0], accounts[1], accounts[2], accounts[3], args.Amount, &args.Decimals)
	case tagCloseAccount:
		return p.closeAccount(ic, accounts)
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

func (Program) initializeMint(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args initializeMintArgs) error {
	if len(accounts) < 1 {
		return ledger.ErrNotEnoughAccountKeys
	}
	mint := accounts[0]
	if !mint.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: mint %s", ledger.ErrIllegalOwner, mint.Key)
	}
	if !isZeroed(mint.Data()) {
		return ErrAlreadyInUse
	}
	if len(mint.Data()) < MintSize {
		return fmt.Errorf("%w: mint needs %d bytes", ledger.ErrInvalidAccountData, MintSize)
	}
	data, err := encodeMint(&Mint{MintAuthority: args.MintAuthority, Decimals: args.Decimals, IsInitialized: true})
	if err != nil {
		return err
	}
	mint.SetData(data)
	ic.Logf("Instruction: InitializeMint %s decimals=%d", mint.Key, args.Decimals)
	return nil
}

func (Program) initializeAccount(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, args initializeAccountArgs) error {
	if len(accounts) < 2 {
		return ledger.ErrNotEnoughAccountKeys
	}
	acct, mintInfo := accounts[0], accounts[1]
	if !acct.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: token account %s", ledger.ErrIllegalOwner, acct.Key)
	}
	if !isZeroed(acct.Data()) {
		return ErrAlreadyInUse
	}
	if len(acct.Data()) < AccountSize {
		return fmt.Errorf("%w: token account needs %d bytes", ledger.ErrInvalidAccountData, AccountSize)
	}
	if !mintInfo.IsOwnedBy(ic.ProgramID()) {
		return fmt.Errorf("%w: mint %s", ledger.ErrIllegalOwner, mintInfo.Key)
	}
	if _, err := DecodeMint(mintInfo.Data()); err != nil {
		return err
	}
	data, err := encodeAccount(&Account{Mint: mintInfo.Key, Owner: args.Owner, State: StateInitialized})
	if err != nil {
		return err
	}
	acct.SetData(data)
	ic.Logf("Instruction: InitializeAccount %s owner=%s", acct.Key, args.Owner)
	return nil
}

func (Program) mintTo(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, amount uint64) error {
	if len(accounts) < 3 {
		return ledger.ErrNotEnoughAccountKeys
	}
	mintInfo, dest, authority := accounts[0], accounts[1], accounts[2]
	mint, err := loadMint(ic, mintInfo)
	if err != nil {
		return err
	}
	to, err := loadAccount(ic, dest)
	if err != nil {
		return err
	}
	if !to.Mint.Equals(mintInfo.Key) {
		return ErrMintMismatch
	}
	if !authority.Key.Equals(mint.MintAuthority) {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: mint authority %s", ledger.ErrMissingSignature, authority.Key)
	}
	if mint.Supply+amount < mint.Supply || to.Amount+amount < to.Amount {
		return ErrOverflow
	}
	mint.Supply += amount
	to.Amount += amount
	if err := writeMint(mintInfo, mint); err != nil {
		return err
	}
	ic.Logf("Instruction: MintTo %d -> %s", amount, dest.Key)
	return writeAccount(dest, to)
}

func (Program) transfer(ic *ledger.InvokeContext, source, mintInfo, dest, authority *ledger.AccountInfo, amount uint64, decimals *uint8) error {
	from, err := loadAccount(ic, source)
	if err != nil {
		return err
	}
	to, err := loadAccount(ic, dest)
	if err != nil {
		return err
	}
	if !from.Mint.Equals(to.Mint) {
		return ErrMintMismatch
	}
	if mintInfo != nil {
		if !mintInfo.Key.Equals(from.Mint) {
			return ErrMintMismatch
		}
		mint, err := loadMint(ic, mintInfo)
		if err != nil {
			return err
		}
		if decimals != nil && *decimals != mint.Decimals {
			return ErrDecimalsMismatch
		}
	}
	if !authority.Key.Equals(from.Owner) {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: token owner %s", ledger.ErrMissingSignature, authority.Key)
	}
	if from.Amount < amount {
		return ErrInsufficientFunds
	}
	if source.Key.Equals(dest.Key) {
		return nil
	}
	if to.Amount+amount < to.Amount {
		return ErrOverflow
	}
	from.Amount -= amount
	to.Amount += amount
	if err := writeAccount(source, from); err != nil {
		return err
	}
	ic.Logf("Instruction: Transfer %d %s -> %s", amount, source.Key, dest.Key)
	return writeAccount(dest, to)
}

func (Program) closeAccount(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 3 {
		return ledger.ErrNotEnoughAccountKeys
	}
	acctInfo, dest, authority := accounts[0], accounts[1], accounts[2]
	acct, err := loadAccount(ic, acctInfo)
	if err != nil {
		return err
	}
	if acct.Amount != 0 {
		return ErrNonNativeHasBalance
	}
	if !authority.Key.Equals(acct.Owner) {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: token owner %s", ledger.ErrMissingSignature, authority.Key)
	}
	ic.Logf("Instruction: CloseAccount %s -> %s", acctInfo.Key, dest.Key)
	return acctInfo.Close(dest)
}

func loadMint(ic *ledger.InvokeContext, info *ledger.AccountInfo) (*Mint, error) {
	if !info.IsOwnedBy(ic.ProgramID()) {
		return nil, fmt.Errorf("%w: mint %s", ledger.ErrIllegalOwner, info.Key)
	}
	return DecodeMint(info.Data())
}

func loadAccount(ic *ledger.InvokeContext, info *ledger.AccountInfo) (*Account, error) {
	if !info.IsOwnedBy(ic.ProgramID()) {
		return nil, fmt.Errorf("%w: token account %s", ledger.ErrIllegalOwner, info.Key)
	}
	return DecodeAccount(info.Data())
}

func writeMint(info *ledger.AccountInfo, m *Mint) error {
	data, err := encodeMint(m)
	if err != nil {
		return err
	}
	info.SetData(data)
	return nil
}

func writeAccount(info *ledger.AccountInfo, a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	info.SetData(data)
	return nil
}
