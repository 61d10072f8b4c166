// Package resolver maps claim instruction accounts back to watched tokens
// and their creators.
//
// Two strategies run side by side:
//   - Strategy A looks up the creator of a token from its Metaplex metadata
//     and caches it for the life of the process.
//   - Strategy B derives the fee share vault PDAs of a token for both
//     program versions so claims that reference only the vault still
//     resolve to the token.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bags-claim-sniper/internal/parser"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Resolver owns the vault map and the process wide creator cache.
type Resolver struct {
	programs parser.Programs
	source   MetadataSource
	vaults   *VaultMap
	timeout  time.Duration

	mu         sync.RWMutex
	creators   map[solana.PublicKey]solana.PublicKey
	registered map[solana.PublicKey]struct{}

	group singleflight.Group
}

// New creates a resolver. timeout bounds each metadata lookup.
func New(programs parser.Programs, source MetadataSource, timeout time.Duration) *Resolver {
	return &Resolver{
		programs:   programs,
		source:     source,
		vaults:     NewVaultMap(),
		timeout:    timeout,
		creators:   make(map[solana.PublicKey]solana.PublicKey),
		registered: make(map[solana.PublicKey]struct{}),
	}
}

func (r *Resolver) Vaults() *VaultMap {
	return r.vaults
}

// RegisterVaults records the V1 and V2 vault accounts of token. A
// derivation failure for one version does not prevent the other. Tokens
// already registered are skipped.
func (r *Resolver) RegisterVaults(token solana.PublicKey) {
	r.mu.Lock()
	_, done := r.registered[token]
	r.registered[token] = struct{}{}
	r.mu.Unlock()
	if done {
		return
	}

	for _, version := range r.programs.Versions() {
		vault, err := DeriveVault(r.programs, version, token)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"token":   token.String(),
				"program": version.String(),
			}).Warn("⚠️ Vault derivation failed")
			continue
		}
		r.vaults.Add(vault, token)
		logrus.WithFields(logrus.Fields{
			"token":   token.String(),
			"program": version.String(),
			"vault":   vault.String(),
		}).Debug("🔑 Vault registered")
	}
}

// CachedCreator returns a previously resolved creator without I/O.
func (r *Resolver) CachedCreator(token solana.PublicKey) (solana.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	creator, ok := r.creators[token]
	return creator, ok
}

// ResolveCreator returns the creator of token, fetching its metadata on a
// cache miss. Concurrent lookups of the same token share one fetch.
func (r *Resolver) ResolveCreator(ctx context.Context, token solana.PublicKey) (solana.PublicKey, error) {
	if creator, ok := r.CachedCreator(token); ok {
		return creator, nil
	}

	v, err, _ := r.group.Do(token.String(), func() (interface{}, error) {
		if creator, ok := r.CachedCreator(token); ok {
			return creator, nil
		}

		fetchCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		meta, err := r.source.Metadata(fetchCtx, token)
		if err != nil {
			return nil, fmt.Errorf("resolve creator of %s: %w", token, err)
		}

		creator := PickCreator(meta)
		r.mu.Lock()
		r.creators[token] = creator
		r.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"token":   token.String(),
			"creator": creator.String(),
		}).Info("👤 Creator resolved")
		return creator, nil
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return v.(solana.PublicKey), nil
}
