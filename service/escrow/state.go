// Package escrow implements the escrow program: a maker locks mint A in a vault
// owned by a derived escrow address, and the vault is released either by a
// taker paying mint B, by a maker refund, or by the oracle resolving a dispute.
package escrow

import (
	"fmt"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the address the escrow program is deployed at.
var ProgramID = solana.MustPublicKeyFromBase58("8cCWwrHTFe5V8xDxXZEkrfUquoq3bWUhukEyjPexbJ7y")

const Seed = "escrow"

// Status is the position of an escrow in its lifecycle.
type Status uint8

const (
	StatusCreated Status = iota
	StatusDisputed
	StatusResolved
)

var statusNames = [...]string{"created", "disputed", "resolved"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown escrow status %q", b)
}

// Escrow is the state of one maker's offer, keyed by (maker, seed).
type Escrow struct {
	Seed        uint64           `json:"seed"`
	Maker       solana.PublicKey `json:"maker"`
	Taker       solana.PublicKey `json:"taker"`
	MintA       solana.PublicKey `json:"mint_a"`
	MintB       solana.PublicKey `json:"mint_b"`
	Receive     uint64           `json:"receive"`
	Deposit     uint64           `json:"deposit"`
	Status      Status           `json:"status"`
	Interaction solana.PublicKey `json:"interaction"`
	Bump        uint8            `json:"bump"`
}

// Size is the encoded size of an Escrow, discriminator included.
const Size = 8 + 8 + 32*4 + 8 + 8 + 1 + 32 + 1

const escrowName = "Escrow"

func DecodeEscrow(data []byte) (*Escrow, error) {
	var e Escrow
	return &e, ledger.DecodeAccount(escrowName, data, &e)
}

func (e *Escrow) encode() ([]byte, error) {
	return ledger.EncodeAccount(escrowName, *e)
}

// signerSeeds lets the escrow address sign for its vault.
func (e *Escrow) signerSeeds() [][]byte {
	return [][]byte{[]byte(Seed), e.Maker.Bytes(), ledger.U64Seed(e.Seed), {e.Bump}}
}

// Vault is the token account holding the deposit.
func (e *Escrow) Vault(address solana.PublicKey) solana.PublicKey {
	return token.MustAssociatedAddress(address, e.MintA)
}

// Address returns the escrow of maker for seed.
func Address(maker solana.PublicKey, seed uint64) (solana.PublicKey, uint8) {
	addr, bump, err := ledger.DeriveAddress(ProgramID, []byte(Seed), maker.Bytes(), ledger.U64Seed(seed))
	if err != nil {
		panic(err)
	}
	return addr, bump
}

// VaultAddress is the associated token account of escrow for mintA.
func VaultAddress(escrow, mintA solana.PublicKey) solana.PublicKey {
	return token.MustAssociatedAddress(escrow, mintA)
}
