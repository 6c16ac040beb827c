package ledger

import (
	"fmt"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// AccountMeta names an account taken by an instruction and the privileges it is taken with.
type AccountMeta struct {
	PublicKey  solana.PublicKey `json:"pubkey"`
	IsSigner   bool             `json:"is_signer"`
	IsWritable bool             `json:"is_writable"`
}

// Meta is shorthand for building an AccountMeta.
func Meta(key solana.PublicKey, signer, writable bool) AccountMeta {
	return AccountMeta{PublicKey: key, IsSigner: signer, IsWritable: writable}
}

// Instruction is a call into one program.
type Instruction struct {
	ProgramID solana.PublicKey `json:"program_id"`
	Accounts  []AccountMeta    `json:"accounts"`
	Data      []byte           `json:"data"`
}

// Message is the signed part of a transaction. Nonce distinguishes otherwise
// identical messages.
type Message struct {
	FeePayer     solana.PublicKey `json:"fee_payer"`
	Nonce        uint64           `json:"nonce"`
	Instructions []Instruction    `json:"instructions"`
}

// Bytes returns the canonical encoding that signatures cover.
func (m *Message) Bytes() ([]byte, error) {
	b, err := borsh.Serialize(*m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return b, nil
}

// Signers returns the keys that must sign the message: the fee payer first,
// then every signer account meta in order of first appearance.
func (m *Message) Signers() []solana.PublicKey {
	seen := map[solana.PublicKey]bool{m.FeePayer: true}
	signers := []solana.PublicKey{m.FeePayer}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.PublicKey] {
				seen[meta.PublicKey] = true
				signers = append(signers, meta.PublicKey)
			}
		}
	}
	return signers
}

// Transaction is an atomic batch of instructions with the signatures of its signers.
type Transaction struct {
	Message    Message            `json:"message"`
	Signatures []solana.Signature `json:"signatures"`
}

// NewTransaction builds an unsigned transaction with a random nonce.
func NewTransaction(feePayer solana.PublicKey, instructions ...Instruction) *Transaction {
	return &Transaction{
		Message: Message{
			FeePayer:     feePayer,
			Nonce:        rand.Uint64(),
			Instructions: instructions,
		},
	}
}

// Sign signs the message with the given keys. Every required signer must be covered.
func (tx *Transaction) Sign(keys ...solana.PrivateKey) error {
	msg, err := tx.Message.Bytes()
	if err != nil {
		return err
	}
	byKey := make(map[solana.PublicKey]solana.PrivateKey, len(keys))
	for _, k := range keys {
		byKey[k.PublicKey()] = k
	}

	signers := tx.Message.Signers()
	sigs := make([]solana.Signature, len(signers))
	for i, signer := range signers {
		key, ok := byKey[signer]
		if !ok {
			return fmt.Errorf("%w: no key for %s", ErrMissingSignature, signer)
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("failed to sign with %s: %w", signer, err)
		}
		sigs[i] = sig
	}
	tx.Signatures = sigs
	return nil
}

// Verify checks that every required signer produced a valid signature.
func (tx *Transaction) Verify() error {
	if len(tx.Message.Instructions) == 0 {
		return ErrEmptyTransaction
	}
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: want %d signatures, got %d", ErrMissingSignature, len(signers), len(tx.Signatures))
	}
	msg, err := tx.Message.Bytes()
	if err != nil {
		return err
	}
	for i, signer := range signers {
		if !tx.Signatures[i].Verify(signer, msg) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}

// ID is the first signature, which identifies the transaction.
func (tx *Transaction) ID() solana.Signature {
	if len(tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return tx.Signatures[0]
}
