package client

import (
	"github.com/brojonat/arbiter/service/escrow"
	"github.com/brojonat/arbiter/service/fundraiser"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/gagliardetto/solana-go"
)

// EscrowView is an escrow account with the balance of its vault.
type EscrowView struct {
	Address      solana.PublicKey `json:"address"`
	Escrow       *escrow.Escrow   `json:"escrow"`
	Vault        solana.PublicKey `json:"vault"`
	VaultBalance uint64           `json:"vault_balance"`
}

// FundraiserView is a fundraiser account with the balance of its vault.
type FundraiserView struct {
	Address      solana.PublicKey       `json:"address"`
	Fundraiser   *fundraiser.Fundraiser `json:"fundraiser"`
	Vault        solana.PublicKey       `json:"vault"`
	VaultBalance uint64                 `json:"vault_balance"`
}

// InteractionView is an oracle interaction and the label of its context, which
// carries the instructions the request is answered under.
type InteractionView struct {
	Address      solana.PublicKey    `json:"address"`
	Interaction  *oracle.Interaction `json:"interaction"`
	ContextLabel string              `json:"context_label"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is set for custom program errors.
	Code *uint32 `json:"code,omitempty"`
	// Name is the program error name or the runtime error name.
	Name        string   `json:"name,omitempty"`
	Instruction *int     `json:"instruction,omitempty"`
	Logs        []string `json:"logs,omitempty"`
}

// AirdropRequest is the body of POST /api/v1/airdrop.
type AirdropRequest struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
}
