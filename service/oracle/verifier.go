package oracle

import "github.com/gagliardetto/solana-go"

// Verifier decides whether a signer may respond to interactions.
type Verifier interface {
	Verify(signer solana.PublicKey) bool
}

// AuthorityVerifier accepts exactly one key.
type AuthorityVerifier struct {
	Authority solana.PublicKey
}

func (v AuthorityVerifier) Verify(signer solana.PublicKey) bool {
	return !v.Authority.IsZero() && v.Authority.Equals(signer)
}
