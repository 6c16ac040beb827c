// Package oracle implements the arbitration oracle program: a counter-sequenced
// set of contexts, interactions that carry a request and its single response,
// and the identity whose authority key is the only one allowed to respond.
package oracle

import (
	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the address the oracle program is deployed at.
var ProgramID = solana.MustPublicKeyFromBase58("LLMrieZMpbJFwN52WgmBNMxYojrpRVYXdC1RCweEbab")

// Seeds of the oracle's derived accounts.
const (
	CounterSeed     = "counter"
	IdentitySeed    = "identity"
	ContextSeed     = "test-context"
	InteractionSeed = "interaction"
)

// Counter sequences context creation.
type Counter struct {
	Count uint32 `json:"count"`
}

// Identity records the authority key allowed to respond to interactions. The
// identity address itself signs callbacks.
type Identity struct {
	Authority solana.PublicKey `json:"authority"`
	Bump      uint8            `json:"bump"`
}

// Verifier returns the capability check for responses.
func (id *Identity) Verifier() Verifier {
	return AuthorityVerifier{Authority: id.Authority}
}

// Context is a conversation root that interactions hang off.
type Context struct {
	Sequence uint32 `json:"sequence"`
	Label    string `json:"label"`
}

// Callback names the program and instruction invoked with the response.
type Callback struct {
	ProgramID     solana.PublicKey     `json:"program_id"`
	Discriminator [8]byte              `json:"discriminator"`
	Accounts      []ledger.AccountMeta `json:"accounts"`
}

// Interaction is one request and, once processed, its response.
type Interaction struct {
	Requester   solana.PublicKey `json:"requester"`
	Context     solana.PublicKey `json:"context"`
	Prompt      string           `json:"prompt"`
	Callback    Callback         `json:"callback"`
	IsProcessed bool             `json:"is_processed"`
	Result      string           `json:"result"`
}

// HasCallback reports whether a response is forwarded to another program.
func (in *Interaction) HasCallback() bool {
	return !in.Callback.ProgramID.IsZero()
}

const (
	counterName     = "Counter"
	identityName    = "Identity"
	contextName     = "ContextAccount"
	interactionName = "Interaction"
)

func DecodeCounter(data []byte) (*Counter, error) {
	var c Counter
	return &c, ledger.DecodeAccount(counterName, data, &c)
}

func DecodeIdentity(data []byte) (*Identity, error) {
	var id Identity
	return &id, ledger.DecodeAccount(identityName, data, &id)
}

func DecodeContext(data []byte) (*Context, error) {
	var c Context
	return &c, ledger.DecodeAccount(contextName, data, &c)
}

func DecodeInteraction(data []byte) (*Interaction, error) {
	var in Interaction
	return &in, ledger.DecodeAccount(interactionName, data, &in)
}

// IsInteraction reports whether data holds an encoded Interaction.
func IsInteraction(data []byte) bool {
	d := ledger.AccountDiscriminator(interactionName)
	return len(data) >= 8 && [8]byte(data[:8]) == d
}

// CounterAddress is the global counter.
func CounterAddress() (solana.PublicKey, uint8) {
	return mustDerive([]byte(CounterSeed))
}

// IdentityAddress is the identity account, which also signs callbacks.
func IdentityAddress() (solana.PublicKey, uint8) {
	return mustDerive([]byte(IdentitySeed))
}

// ContextAddress is the context created when the counter reads sequence.
func ContextAddress(sequence uint32) solana.PublicKey {
	addr, _ := mustDerive([]byte(ContextSeed), ledger.U32Seed(sequence))
	return addr
}

// InteractionAddress is the interaction of requester under context.
func InteractionAddress(requester, context solana.PublicKey) solana.PublicKey {
	addr, _ := mustDerive([]byte(InteractionSeed), requester.Bytes(), context.Bytes())
	return addr
}

func mustDerive(seeds ...[]byte) (solana.PublicKey, uint8) {
	addr, bump, err := ledger.DeriveAddress(ProgramID, seeds...)
	if err != nil {
		panic(err)
	}
	return addr, bump
}
