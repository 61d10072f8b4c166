package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/store"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

var ErrUserNotFound = errors.New("user not registered")

// CreatorResolver is the part of the account resolver the registry drives
// when tokens are watched.
type CreatorResolver interface {
	RegisterVaults(token solana.PublicKey)
	CachedCreator(token solana.PublicKey) (solana.PublicKey, bool)
	ResolveCreator(ctx context.Context, token solana.PublicKey) (solana.PublicKey, error)
}

// registration is everything the engine holds for one active user.
type registration struct {
	privateKey string
	settings   store.Settings
	watchlist  map[solana.PublicKey]float64
	creators   map[solana.PublicKey]solana.PublicKey
}

// Registry is the multi-tenant watchlist store keyed by wallet address.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]*registration
	resolver CreatorResolver
}

// NewRegistry creates an empty registry.
func NewRegistry(resolver CreatorResolver) *Registry {
	return &Registry{
		users:    make(map[string]*registration),
		resolver: resolver,
	}
}

// RegisterUser replaces the registration of userID wholesale. Vaults of
// every watched token are registered before the new entry becomes visible.
// Creators already known process wide are carried over; the rest are looked
// up in the background.
func (r *Registry) RegisterUser(ctx context.Context, userID, privateKey string, settings store.Settings, watchlist map[solana.PublicKey]float64) {
	reg := &registration{
		privateKey: privateKey,
		settings:   settings,
		watchlist:  make(map[solana.PublicKey]float64, len(watchlist)),
		creators:   make(map[solana.PublicKey]solana.PublicKey, len(watchlist)),
	}

	var pending []solana.PublicKey
	for token, amount := range watchlist {
		r.resolver.RegisterVaults(token)
		reg.watchlist[token] = amount
		if creator, ok := r.resolver.CachedCreator(token); ok {
			reg.creators[token] = creator
		} else {
			pending = append(pending, token)
		}
	}

	r.mu.Lock()
	_, existed := r.users[userID]
	r.users[userID] = reg
	r.mu.Unlock()

	if !existed {
		logrus.WithFields(logrus.Fields{
			"user":      logger.ShortKey(userID, 8),
			"watchlist": len(reg.watchlist),
		}).Info("👤 User registered")
	}

	for _, token := range pending {
		go r.fetchCreator(ctx, userID, token)
	}
}

// AddToWatchlist adds or updates one watched token.
func (r *Registry) AddToWatchlist(ctx context.Context, userID string, token solana.PublicKey, amount float64) error {
	r.resolver.RegisterVaults(token)
	creator, cached := r.resolver.CachedCreator(token)

	r.mu.Lock()
	reg, ok := r.users[userID]
	if ok {
		reg.watchlist[token] = amount
		if cached {
			reg.creators[token] = creator
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrUserNotFound
	}

	logrus.WithFields(logrus.Fields{
		"user":   logger.ShortKey(userID, 8),
		"token":  token.String(),
		"amount": logger.FormatSOL(amount),
	}).Info("👀 Watching token")

	if !cached {
		go r.fetchCreator(ctx, userID, token)
	}
	return nil
}

// RemoveFromWatchlist stops watching token and forgets its creator for
// this user.
func (r *Registry) RemoveFromWatchlist(userID string, token solana.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(reg.watchlist, token)
	delete(reg.creators, token)
	return nil
}

// Watchlist returns a copy of the user's watched tokens.
func (r *Registry) Watchlist(userID string) (map[solana.PublicKey]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	snapshot := make(map[solana.PublicKey]float64, len(reg.watchlist))
	for token, amount := range reg.watchlist {
		snapshot[token] = amount
	}
	return snapshot, nil
}

// Creator returns the creator recorded for token in the user's cache.
func (r *Registry) Creator(userID string, token solana.PublicKey) (solana.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.users[userID]
	if !ok {
		return solana.PublicKey{}, false
	}
	creator, ok := reg.creators[token]
	return creator, ok
}

// SetCreator records a resolved creator if the user still watches token.
func (r *Registry) SetCreator(userID string, token, creator solana.PublicKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, watched := reg.watchlist[token]; !watched {
		return false
	}
	reg.creators[token] = creator
	return true
}

// RetainUsers drops every user not in active and returns how many were
// removed.
func (r *Registry) RetainUsers(active []string) int {
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id := range r.users {
		if _, ok := keep[id]; !ok {
			delete(r.users, id)
			removed++
			logrus.WithField("user", logger.ShortKey(id, 8)).Info("👋 User deactivated")
		}
	}
	return removed
}

// UserIDs returns registered users in sorted order.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) fetchCreator(ctx context.Context, userID string, token solana.PublicKey) {
	creator, err := r.resolver.ResolveCreator(ctx, token)
	if err != nil {
		logrus.WithError(err).WithField("token", token.String()).Warn("⚠️ Creator lookup failed")
		return
	}
	r.SetCreator(userID, token, creator)
}
