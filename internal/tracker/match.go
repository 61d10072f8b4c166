package tracker

import (
	"math"

	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/parser"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// VaultResolver expands claim accounts with the tokens their vaults map to.
type VaultResolver interface {
	Resolve(accounts parser.AccountSet) parser.AccountSet
}

// Action is a self-contained buy order produced by a match. It carries
// copies of everything the trade needs so no registry lock is held while
// it executes.
type Action struct {
	UserID              string
	PrivateKey          string
	Token               solana.PublicKey
	AmountSOL           float64
	SlippageBps         uint16
	PriorityFeeLamports uint64
	TelegramChatID      string
}

// Match returns one action per (user, token) that the claim accounts
// trigger and that has not fired before. A pair fires when the token's
// creator is known and is itself among accounts, and the token is among
// accounts directly or through a vault. The guard is marked in the same
// critical section as the decision.
func (r *Registry) Match(accounts parser.AccountSet, vaults VaultResolver, guard *SnipeGuard) []Action {
	resolved := vaults.Resolve(accounts)

	r.mu.RLock()
	defer r.mu.RUnlock()
	guard.mu.Lock()
	defer guard.mu.Unlock()

	var actions []Action
	for userID, reg := range r.users {
		for token, amount := range reg.watchlist {
			creator, ok := reg.creators[token]
			if !ok || !accounts.Contains(creator) {
				continue
			}
			if !resolved.Contains(token) {
				continue
			}
			if !guard.markLocked(Key(userID, token)) {
				continue
			}

			logrus.WithFields(logrus.Fields{
				"user":    logger.ShortKey(userID, 8),
				"token":   token.String(),
				"creator": creator.String(),
				"amount":  logger.FormatSOL(amount),
			}).Info("🎯 MATCH! Creator claim on watched token")

			actions = append(actions, Action{
				UserID:              userID,
				PrivateKey:          reg.privateKey,
				Token:               token,
				AmountSOL:           amount,
				SlippageBps:         SlippageBps(reg.settings.SlippagePercent),
				PriorityFeeLamports: Lamports(reg.settings.PriorityFeeSOL),
				TelegramChatID:      reg.settings.TelegramChatID,
			})
		}
	}
	return actions
}

// SlippageBps converts a percentage to basis points.
func SlippageBps(percent float64) uint16 {
	bps := math.Round(percent * 100)
	switch {
	case bps <= 0:
		return 0
	case bps > 10000:
		return 10000
	}
	return uint16(bps)
}

// Lamports converts SOL to lamports.
func Lamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(math.Round(sol * float64(solana.LAMPORTS_PER_SOL)))
}
