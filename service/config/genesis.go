package config

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Genesis is the state applied to an empty ledger at boot.
type Genesis struct {
	Airdrops []GenesisAirdrop `yaml:"airdrops"`
	Mints    []GenesisMint    `yaml:"mints"`
}

type GenesisAirdrop struct {
	Address  string `yaml:"address"`
	Lamports uint64 `yaml:"lamports"`
}

// GenesisMint creates a mint at the address of Key. Balances are minted into
// the associated token accounts of their owners.
type GenesisMint struct {
	Key          string           `yaml:"key"`
	Decimals     uint8            `yaml:"decimals"`
	AuthorityKey string           `yaml:"authority_key"`
	Balances     []GenesisBalance `yaml:"balances"`
}

type GenesisBalance struct {
	Owner  string `yaml:"owner"`
	Amount uint64 `yaml:"amount"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes a genesis document and checks every key in it.
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) Validate() error {
	var errs []error
	for i, a := range g.Airdrops {
		if _, err := solana.PublicKeyFromBase58(a.Address); err != nil {
			errs = append(errs, fmt.Errorf("airdrops[%d]: invalid address %q", i, a.Address))
		}
		if a.Lamports == 0 {
			errs = append(errs, fmt.Errorf("airdrops[%d]: lamports must be positive", i))
		}
	}
	for i, m := range g.Mints {
		if _, err := solana.PrivateKeyFromBase58(m.Key); err != nil {
			errs = append(errs, fmt.Errorf("mints[%d]: key is not a base58 private key", i))
		}
		if _, err := solana.PrivateKeyFromBase58(m.AuthorityKey); err != nil {
			errs = append(errs, fmt.Errorf("mints[%d]: authority_key is not a base58 private key", i))
		}
		for j, b := range m.Balances {
			if _, err := solana.PublicKeyFromBase58(b.Owner); err != nil {
				errs = append(errs, fmt.Errorf("mints[%d].balances[%d]: invalid owner %q", i, j, b.Owner))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("genesis validation failed: %v", errs)
	}
	return nil
}
