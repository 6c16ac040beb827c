package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// DeriveAddress returns the canonical program-derived address for seeds under program,
// together with the bump that moves it off the ed25519 curve.
func DeriveAddress(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
	}
	return addr, bump, nil
}

// VerifyAddress re-derives an address from seeds plus a stored bump.
func VerifyAddress(program, expected solana.PublicKey, bump uint8, seeds ...[]byte) error {
	full := append(append([][]byte{}, seeds...), []byte{bump})
	addr, err := solana.CreateProgramAddress(full, program)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
	}
	if !addr.Equals(expected) {
		return fmt.Errorf("%w: derived %s, got %s", ErrInvalidSeeds, addr, expected)
	}
	return nil
}

// AssociatedTokenAddress returns the canonical token account of wallet for mint.
func AssociatedTokenAddress(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
	}
	return addr, nil
}

// U64Seed encodes n the way account seeds expect it (little endian).
func U64Seed(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

func U32Seed(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func discriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// AccountDiscriminator is the 8 byte prefix of a typed account, sha256("account:<Name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	return discriminator("account", name)
}

// InstructionDiscriminator is the 8 byte prefix of an instruction, sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) [8]byte {
	return discriminator("global", name)
}

// EncodeAccount serializes v with borsh behind its account discriminator.
func EncodeAccount(name string, v any) ([]byte, error) {
	body, err := borsh.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	d := AccountDiscriminator(name)
	return append(d[:], body...), nil
}

// DecodeAccount checks the discriminator of data and deserializes the rest into v.
func DecodeAccount(name string, data []byte, v any) error {
	d := AccountDiscriminator(name)
	if len(data) < 8 || !bytes.Equal(data[:8], d[:]) {
		return fmt.Errorf("%w: not a %s account", ErrInvalidAccountData, name)
	}
	if err := borsh.Deserialize(v, data[8:]); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAccountData, name, err)
	}
	return nil
}

// EncodeInstruction builds instruction data: discriminator followed by borsh(args).
// A nil args encodes the discriminator alone.
func EncodeInstruction(name string, args any) ([]byte, error) {
	d := InstructionDiscriminator(name)
	if args == nil {
		return d[:], nil
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s args: %w", name, err)
	}
	return append(d[:], body...), nil
}

// DecodeArgs deserializes instruction arguments that follow an 8 byte discriminator.
func DecodeArgs(data []byte, v any) error {
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	if err := borsh.Deserialize(v, data[8:]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	return nil
}

// SplitDiscriminator returns the leading 8 bytes of instruction data.
func SplitDiscriminator(data []byte) ([8]byte, bool) {
	var d [8]byte
	if len(data) < 8 {
		return d, false
	}
	copy(d[:], data[:8])
	return d, true
}
