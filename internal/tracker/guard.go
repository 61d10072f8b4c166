package tracker

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// SnipeGuard remembers which (user, token) pairs have already been
// dispatched. Keys are never removed.
type SnipeGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewSnipeGuard() *SnipeGuard {
	return &SnipeGuard{keys: make(map[string]struct{})}
}

// Key is the composite guard key "user:token".
func Key(userID string, token solana.PublicKey) string {
	return userID + ":" + token.String()
}

// TryMark inserts the pair and reports whether it was absent.
func (g *SnipeGuard) TryMark(userID string, token solana.PublicKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markLocked(Key(userID, token))
}

func (g *SnipeGuard) markLocked(key string) bool {
	if _, done := g.keys[key]; done {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

func (g *SnipeGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
