package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// MaxInvokeDepth bounds nested cross-program invocations, the top-level instruction included.
const MaxInvokeDepth = 4

// execution is the copy-on-write view of the store used by one attempt at a transaction.
type execution struct {
	ctx      context.Context
	ledger   *Ledger
	now      time.Time
	accounts map[solana.PublicKey]*Account
	original map[solana.PublicKey]*Account
	reads    map[solana.PublicKey]uint64
	order    []solana.PublicKey
	logs     []string
	events   []Event
	failed   error
}

func newExecution(ctx context.Context, l *Ledger) *execution {
	return &execution{
		ctx:      ctx,
		ledger:   l,
		now:      l.now(),
		accounts: make(map[solana.PublicKey]*Account),
		original: make(map[solana.PublicKey]*Account),
		reads:    make(map[solana.PublicKey]uint64),
	}
}

func (e *execution) load(addr solana.PublicKey) (*Account, error) {
	if acct, ok := e.accounts[addr]; ok {
		return acct, nil
	}
	if _, ok := e.ledger.programs[addr]; ok {
		acct := &Account{Address: addr, Owner: LoaderID, Lamports: 1, Executable: true}
		e.accounts[addr] = acct
		return acct, nil
	}

	stored, err := e.ledger.store.GetAccount(e.ctx, addr)
	switch {
	case err == nil:
	case isNotFound(err):
		stored = emptyAccount(addr)
	default:
		return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
	}
	e.reads[addr] = stored.Version
	e.original[addr] = stored.Clone()
	e.accounts[addr] = stored.Clone()
	e.order = append(e.order, addr)
	return e.accounts[addr], nil
}

// changes returns the accounts whose state differs from what was loaded.
func (e *execution) changes() []*Account {
	var out []*Account
	for _, addr := range e.order {
		cur := e.accounts[addr]
		if sameState(e.original[addr], cur) {
			continue
		}
		out = append(out, cur.Clone())
	}
	return out
}

func (e *execution) logf(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

// InvokeContext is the environment of one executing instruction.
type InvokeContext struct {
	exec      *execution
	programID solana.PublicKey
	depth     int
	stack     []solana.PublicKey
	infos     []*AccountInfo
	pre       map[solana.PublicKey]*Account
}

func (ic *InvokeContext) Context() context.Context    { return ic.exec.ctx }
func (ic *InvokeContext) ProgramID() solana.PublicKey { return ic.programID }
func (ic *InvokeContext) Depth() int                  { return ic.depth }

// Now is the ledger clock for the executing transaction.
func (ic *InvokeContext) Now() time.Time { return ic.exec.now }

// MinimumBalance is the rent exempt reserve for an account with space bytes of data.
func (ic *InvokeContext) MinimumBalance(space int) uint64 { return MinimumBalance(space) }

// Logf appends a program log line to the receipt.
func (ic *InvokeContext) Logf(format string, args ...any) {
	ic.exec.logf("Program log: "+format, args...)
}

// Emit records an event that is published once the transaction commits.
func (ic *InvokeContext) Emit(eventType string, attrs map[string]string) {
	ic.exec.events = append(ic.exec.events, Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Program:    ic.programID,
		Attributes: attrs,
	})
}

// Invoke calls another program. Each entry of signerSeeds derives an address of
// the calling program that counts as a signer of the callee.
func (ic *InvokeContext) Invoke(ix Instruction, signerSeeds ...[][]byte) error {
	pdas := make(map[solana.PublicKey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := solana.CreateProgramAddress(seeds, ic.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		pdas[addr] = true
	}
	return ic.exec.invoke(ic, ix, pdas)
}

// CreateProgramAccount allocates target as a rent exempt account of the calling
// program with space bytes, funded by payer. seeds, bump included, sign for target.
func (ic *InvokeContext) CreateProgramAccount(payer, target *AccountInfo, space int, seeds [][]byte) error {
	ix := CreateAccountInstruction(payer.Key, target.Key, MinimumBalance(space), uint64(space), ic.programID)
	return ic.Invoke(ix, seeds)
}

func (e *execution) invoke(caller *InvokeContext, ix Instruction, pdas map[solana.PublicKey]bool) (err error) {
	depth := 1
	var stack []solana.PublicKey
	if caller != nil {
		depth = caller.depth + 1
		stack = caller.stack
		if depth > MaxInvokeDepth {
			return e.fail(ErrCallDepth)
		}
		for _, p := range stack {
			if p.Equals(ix.ProgramID) && !caller.programID.Equals(ix.ProgramID) {
				return e.fail(fmt.Errorf("%w: %s", ErrReentrancy, ix.ProgramID))
			}
		}
	}

	program, ok := e.ledger.programs[ix.ProgramID]
	if !ok {
		return e.fail(fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID))
	}

	infos := make([]*AccountInfo, len(ix.Accounts))
	writable := make(map[solana.PublicKey]bool)
	pre := make(map[solana.PublicKey]*Account)
	for i, meta := range ix.Accounts {
		acct, err := e.load(meta.PublicKey)
		if err != nil {
			return e.fail(err)
		}
		if caller != nil {
			if err := caller.authorize(meta, pdas); err != nil {
				return e.fail(err)
			}
		}
		infos[i] = &AccountInfo{Key: meta.PublicKey, IsSigner: meta.IsSigner, IsWritable: meta.IsWritable, acct: acct}
		if meta.IsWritable {
			writable[meta.PublicKey] = true
		}
		if _, ok := pre[meta.PublicKey]; !ok {
			pre[meta.PublicKey] = acct.Clone()
		}
	}

	ic := &InvokeContext{
		exec:      e,
		programID: ix.ProgramID,
		depth:     depth,
		stack:     append(append([]solana.PublicKey{}, stack...), ix.ProgramID),
		infos:     infos,
		pre:       pre,
	}

	e.logf("Program %s invoke [%d]", ix.ProgramID, depth)
	if err := program.Process(ic, infos, ix.Data); err != nil {
		e.logf("Program %s failed: %v", ix.ProgramID, err)
		return e.fail(err)
	}
	// A program that swallows a failed CPI still fails the transaction.
	if e.failed != nil {
		return e.failed
	}
	if err := e.verify(ix.ProgramID, pre, writable); err != nil {
		e.logf("Program %s failed: %v", ix.ProgramID, err)
		return e.fail(err)
	}
	e.logf("Program %s success", ix.ProgramID)

	if caller != nil {
		for key := range pre {
			caller.pre[key] = e.accounts[key].Clone()
		}
	}
	return nil
}

func (e *execution) fail(err error) error {
	if e.failed == nil {
		e.failed = err
	}
	return err
}

// authorize checks that a callee account meta does not exceed the privileges
// the caller holds for the same account.
func (ic *InvokeContext) authorize(meta AccountMeta, pdas map[solana.PublicKey]bool) error {
	var held *AccountInfo
	for _, info := range ic.infos {
		if !info.Key.Equals(meta.PublicKey) {
			continue
		}
		if held == nil {
			held = &AccountInfo{Key: info.Key}
		}
		held.IsSigner = held.IsSigner || info.IsSigner
		held.IsWritable = held.IsWritable || info.IsWritable
	}
	if held == nil {
		if _, ok := ic.exec.ledger.programs[meta.PublicKey]; ok && !meta.IsWritable && !meta.IsSigner {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrMissingAccount, meta.PublicKey)
	}
	if meta.IsWritable && !held.IsWritable {
		return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.PublicKey)
	}
	if meta.IsSigner && !held.IsSigner && !pdas[meta.PublicKey] {
		return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.PublicKey)
	}
	return nil
}

// verify applies the account rules to everything an instruction touched:
// only the owner may change data or owner or debit lamports, only writable
// accounts may change, executables never change, and lamports are conserved.
func (e *execution) verify(program solana.PublicKey, pre map[solana.PublicKey]*Account, writable map[solana.PublicKey]bool) error {
	var preHi, preLo, postHi, postLo uint64
	var carry uint64
	for key, before := range pre {
		after := e.accounts[key]
		preLo, carry = bits.Add64(preLo, before.Lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, after.Lamports, 0)
		postHi += carry

		if sameState(before, after) {
			continue
		}
		if before.Executable || after.Executable != before.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		if !writable[key] {
			return fmt.Errorf("%w: %s", ErrReadonlyModified, key)
		}
		ownerChanged := !after.Owner.Equals(before.Owner)
		dataChanged := !bytes.Equal(after.Data, before.Data)
		debited := after.Lamports < before.Lamports
		if (ownerChanged || dataChanged || debited) && !before.Owner.Equals(program) {
			return fmt.Errorf("%w: %s owned by %s", ErrExternalAccountModified, key, before.Owner)
		}
	}
	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}
	return nil
}
