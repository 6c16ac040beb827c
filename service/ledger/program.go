package ledger

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Program is on-ledger logic. Process runs one instruction; returning an error
// aborts the whole transaction.
type Program interface {
	Name() string
	Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error
}

// LoaderID owns the executable accounts of registered programs.
var LoaderID = solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111")

// Event is a structured record emitted by a program and published after commit.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Program    solana.PublicKey  `json:"program"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Receipt is the outcome of a submitted transaction.
type Receipt struct {
	Signature solana.Signature   `json:"signature"`
	Slot      uint64             `json:"slot"`
	Time      time.Time          `json:"time"`
	Logs      []string           `json:"logs"`
	Events    []Event            `json:"events,omitempty"`
	Accounts  []solana.PublicKey `json:"accounts,omitempty"`
	Err       string             `json:"error,omitempty"`
	ErrCode   *uint32            `json:"error_code,omitempty"`
}

// Succeeded reports whether the transaction committed.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Err == ""
}

// EventsOfType filters receipt events.
func (r *Receipt) EventsOfType(t string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
