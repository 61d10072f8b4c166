package resolver

import (
	"fmt"
	"sync"

	"bags-claim-sniper/internal/parser"

	"github.com/gagliardetto/solana-go"
)

var (
	feeShareConfigSeed = []byte("fee_share_config")

	// NativeMint is wrapped SOL, the quote mint of V2 fee share configs.
	NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// DeriveVault returns the fee share config PDA that claim instructions of
// the given program version reference for token.
//
//	V1: ["fee_share_config", mint]
//	V2: ["fee_share_config", mint, wSOL]
func DeriveVault(programs parser.Programs, version parser.ProgramVersion, token solana.PublicKey) (solana.PublicKey, error) {
	seeds := [][]byte{feeShareConfigSeed, token.Bytes()}
	if version == parser.ProgramV2 {
		seeds = append(seeds, NativeMint.Bytes())
	}

	pda, _, err := solana.FindProgramAddress(seeds, programs.ID(version))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive %s fee share config: %w", version, err)
	}
	return pda, nil
}

// VaultMap maps derived vault accounts back to their token. Entries are
// only ever added.
type VaultMap struct {
	mu     sync.RWMutex
	vaults map[solana.PublicKey]solana.PublicKey
}

func NewVaultMap() *VaultMap {
	return &VaultMap{vaults: make(map[solana.PublicKey]solana.PublicKey)}
}

func (m *VaultMap) Add(vault, token solana.PublicKey) {
	m.mu.Lock()
	m.vaults[vault] = token
	m.mu.Unlock()
}

func (m *VaultMap) Lookup(vault solana.PublicKey) (solana.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.vaults[vault]
	return token, ok
}

func (m *VaultMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vaults)
}

// Resolve returns accounts plus every token reachable from them through the
// vault mapping. The input set is not modified.
func (m *VaultMap) Resolve(accounts parser.AccountSet) parser.AccountSet {
	resolved := make(parser.AccountSet, len(accounts))
	for account := range accounts {
		resolved.Add(account)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for account := range accounts {
		if token, ok := m.vaults[account]; ok {
			resolved.Add(token)
		}
	}
	return resolved
}
