package ledger

import (
	"bytes"

	"github.com/gagliardetto/solana-go"
)

// Account is a unit of ledger state addressed by a public key and owned by a program.
// An account exists while it holds lamports; committing an account at zero lamports
// deletes it.
type Account struct {
	Address    solana.PublicKey `json:"address"`
	Owner      solana.PublicKey `json:"owner"`
	Lamports   uint64           `json:"lamports"`
	Data       []byte           `json:"data"`
	Executable bool             `json:"executable"`
	// Version is the slot of the commit that last wrote the account. Zero means
	// the account has never been committed.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// Exists reports whether the account holds lamports.
func (a *Account) Exists() bool {
	return a != nil && a.Lamports > 0
}

func emptyAccount(addr solana.PublicKey) *Account {
	return &Account{Address: addr, Owner: solana.SystemProgramID}
}

func sameState(a, b *Account) bool {
	return a.Owner.Equals(b.Owner) &&
		a.Lamports == b.Lamports &&
		a.Executable == b.Executable &&
		bytes.Equal(a.Data, b.Data)
}

// AccountInfo is a program's handle on an account taken by an instruction.
// Mutations are checked against the account rules when the instruction returns.
type AccountInfo struct {
	Key        solana.PublicKey
	IsSigner   bool
	IsWritable bool

	acct *Account
}

func (a *AccountInfo) Owner() solana.PublicKey { return a.acct.Owner }
func (a *AccountInfo) Lamports() uint64        { return a.acct.Lamports }
func (a *AccountInfo) Data() []byte            { return a.acct.Data }
func (a *AccountInfo) Executable() bool        { return a.acct.Executable }

// IsEmpty reports whether the account has never been created or was closed.
func (a *AccountInfo) IsEmpty() bool {
	return a.acct.Lamports == 0 && len(a.acct.Data) == 0
}

// IsOwnedBy reports whether program owns the account.
func (a *AccountInfo) IsOwnedBy(program solana.PublicKey) bool {
	return a.acct.Owner.Equals(program)
}

func (a *AccountInfo) SetData(data []byte) {
	a.acct.Data = append([]byte(nil), data...)
}

func (a *AccountInfo) SetLamports(lamports uint64) {
	a.acct.Lamports = lamports
}

// Assign changes the owning program.
func (a *AccountInfo) Assign(owner solana.PublicKey) {
	a.acct.Owner = owner
}

// Close moves every lamport to dest and wipes the account so the commit deletes it.
func (a *AccountInfo) Close(dest *AccountInfo) error {
	if dest.Key.Equals(a.Key) {
		return ErrInvalidArgument
	}
	sum := dest.acct.Lamports + a.acct.Lamports
	if sum < dest.acct.Lamports {
		return ErrArithmeticOverflow
	}
	dest.acct.Lamports = sum
	a.acct.Lamports = 0
	a.acct.Data = nil
	a.acct.Owner = solana.SystemProgramID
	return nil
}

// Snapshot returns a copy of the current account state.
func (a *AccountInfo) Snapshot() *Account {
	return a.acct.Clone()
}
