package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Commit is the write set of one transaction plus the versions of every
// account it read. A store applies it entirely or rejects it with ErrConflict.
type Commit struct {
	Reads   map[solana.PublicKey]uint64
	Writes  []*Account
	Receipt *Receipt
}

// AccountStore persists committed accounts and receipts.
type AccountStore interface {
	GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error)
	ListAccounts(ctx context.Context, owner solana.PublicKey) ([]*Account, error)
	GetReceipt(ctx context.Context, sig solana.Signature) (*Receipt, error)
	// Commit applies c atomically and returns the slot it was assigned.
	Commit(ctx context.Context, c *Commit) (uint64, error)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// MemoryStore is an AccountStore held in process memory. Its mutex is the
// commit point of the ledger: reads and commits are serialized through it.
type MemoryStore struct {
	mu       sync.RWMutex
	slot     uint64
	accounts map[solana.PublicKey]*Account
	receipts map[solana.Signature]*Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[solana.PublicKey]*Account),
		receipts: make(map[solana.Signature]*Receipt),
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, owner solana.PublicKey) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, acct := range s.accounts {
		if acct.Owner.Equals(owner) {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, sig solana.Signature) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[sig]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Commit(ctx context.Context, c *Commit) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Receipt != nil && c.Receipt.Signature != (solana.Signature{}) {
		if _, ok := s.receipts[c.Receipt.Signature]; ok {
			return 0, ErrDuplicateTransaction
		}
	}
	for addr, version := range c.Reads {
		var current uint64
		if acct, ok := s.accounts[addr]; ok {
			current = acct.Version
		}
		if current != version {
			return 0, ErrConflict
		}
	}

	s.slot++
	for _, w := range c.Writes {
		if w.Lamports == 0 {
			delete(s.accounts, w.Address)
			continue
		}
		acct := w.Clone()
		acct.Version = s.slot
		s.accounts[w.Address] = acct
	}
	if c.Receipt != nil && c.Receipt.Signature != (solana.Signature{}) {
		r := *c.Receipt
		r.Slot = s.slot
		s.receipts[r.Signature] = &r
	}
	return s.slot, nil
}
