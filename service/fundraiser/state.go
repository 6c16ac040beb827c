// Package fundraiser implements a time-boxed crowdfunding vault. Contributions
// are capped per contributor, the maker collects once the target is met, and
// contributors reclaim their share when the deadline passes without it.
package fundraiser

import (
	"fmt"
	"math/bits"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// ProgramID is the address the fundraiser program is deployed at.
var ProgramID = solana.MustPublicKeyFromBase58("9rcdaF2bdQVq3TjrL756VqcZWWYgLdZXJX79soxNoUjr")

const (
	FundraiserSeed  = "fundraiser"
	ContributorSeed = "contributor"
)

const (
	// MaxContributionPercentage of the target one contributor may give in total.
	MaxContributionPercentage = 10
	PercentageScaler          = 100
	SecondsPerDay             = 86400
	// MinAmountToRaise is the smallest target, in whole tokens.
	MinAmountToRaise = 3
)

// Encoded sizes. The layouts are fixed offset with no discriminator.
const (
	FundraiserSize  = 32 + 32 + 8 + 8 + 8 + 1 + 1
	ContributorSize = 8
)

// Fundraiser is the state of one maker's fundraiser.
type Fundraiser struct {
	Maker         solana.PublicKey `json:"maker"`
	Mint          solana.PublicKey `json:"mint"`
	AmountToRaise uint64           `json:"amount_to_raise"`
	CurrentAmount uint64           `json:"current_amount"`
	TimeStarted   uint64           `json:"time_started"`
	Duration      uint8            `json:"duration"`
	Bump          uint8            `json:"bump"`
}

// MaxPerContributor is the cap on one contributor's total contribution. The
// product is taken in 128 bits so that large targets do not wrap.
func (f *Fundraiser) MaxPerContributor() uint64 {
	hi, lo := bits.Mul64(f.AmountToRaise, MaxContributionPercentage)
	q, _ := bits.Div64(hi, lo, PercentageScaler)
	return q
}

// ElapsedDays is the number of whole days between the start and now.
func (f *Fundraiser) ElapsedDays(now int64) uint64 {
	started := int64(f.TimeStarted)
	if now <= started {
		return 0
	}
	return uint64(now-started) / SecondsPerDay
}

// Ended reports whether the fundraiser's duration has run out at now.
func (f *Fundraiser) Ended(now int64) bool {
	return f.ElapsedDays(now) >= uint64(f.Duration)
}

func (f *Fundraiser) signerSeeds() [][]byte {
	return [][]byte{[]byte(FundraiserSeed), f.Maker.Bytes(), {f.Bump}}
}

// Contributor tracks one contributor's running total.
type Contributor struct {
	Amount uint64 `json:"amount"`
}

func DecodeFundraiser(data []byte) (*Fundraiser, error) {
	if len(data) != FundraiserSize {
		return nil, fmt.Errorf("%w: fundraiser is %d bytes", ledger.ErrInvalidAccountData, len(data))
	}
	var f Fundraiser
	if err := borsh.Deserialize(&f, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidAccountData, err)
	}
	return &f, nil
}

func DecodeContributor(data []byte) (*Contributor, error) {
	if len(data) != ContributorSize {
		return nil, fmt.Errorf("%w: contributor is %d bytes", ledger.ErrInvalidAccountData, len(data))
	}
	var c Contributor
	if err := borsh.Deserialize(&c, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidAccountData, err)
	}
	return &c, nil
}

func encode(v any) ([]byte, error) {
	data, err := borsh.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fundraiser state: %w", err)
	}
	return data, nil
}

// Address returns the fundraiser of maker and its bump.
func Address(maker solana.PublicKey) (solana.PublicKey, uint8) {
	addr, bump, err := ledger.DeriveAddress(ProgramID, []byte(FundraiserSeed), maker.Bytes())
	if err != nil {
		panic(err)
	}
	return addr, bump
}

// ContributorAddress is the running-total account of contributor in fundraiser.
func ContributorAddress(fundraiser, contributor solana.PublicKey) solana.PublicKey {
	addr, _, err := ledger.DeriveAddress(ProgramID, []byte(ContributorSeed), fundraiser.Bytes(), contributor.Bytes())
	if err != nil {
		panic(err)
	}
	return addr
}

// VaultAddress is the token account holding contributions.
func VaultAddress(fundraiser, mint solana.PublicKey) solana.PublicKey {
	return token.MustAssociatedAddress(fundraiser, mint)
}
