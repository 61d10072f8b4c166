// Package refresh keeps the in-memory registry in sync with the dashboard
// store and reports engine liveness back to every registered user.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/store"
	"bags-claim-sniper/internal/tracker"
	"bags-claim-sniper/internal/utils"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	HeartbeatMessage    = "Heartbeat: Monitoring for claims (gRPC Stream Active)..."
	ConnectedMessage    = "Connected to gRPC stream. Monitoring for claims..."
	disconnectedMessage = "Stream disconnected: %v. Reconnecting..."

	// concurrent per-user store fetches within one cycle
	userFetchLimit = 8
)

// UserGauge receives the registered user count after every cycle.
type UserGauge interface {
	SetActiveUsers(n int)
}

// Refresher polls the store and rebuilds registrations.
type Refresher struct {
	store     store.Store
	registry  *tracker.Registry
	gauge     UserGauge
	interval  time.Duration
	heartbeat time.Duration
}

func New(st store.Store, registry *tracker.Registry, gauge UserGauge, interval, heartbeat time.Duration) *Refresher {
	return &Refresher{
		store:     st,
		registry:  registry,
		gauge:     gauge,
		interval:  interval,
		heartbeat: heartbeat,
	}
}

// Refresh runs one full resync. Users that are no longer active, or that no
// longer have a key, are dropped. A user whose data cannot be read keeps the
// registration from the previous cycle.
func (r *Refresher) Refresh(ctx context.Context) error {
	active, err := r.store.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch active users: %w", err)
	}

	keep := make([]bool, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userFetchLimit)
	for i, wallet := range active {
		g.Go(func() error {
			keep[i] = r.refreshUser(gctx, wallet)
			return nil
		})
	}
	_ = g.Wait()

	retained := make([]string, 0, len(active))
	for i, wallet := range active {
		if keep[i] {
			retained = append(retained, wallet)
		}
	}

	if removed := r.registry.RetainUsers(retained); removed > 0 {
		logrus.WithField("removed", removed).Info("👋 Inactive users removed")
	}
	if r.gauge != nil {
		r.gauge.SetActiveUsers(r.registry.Count())
	}
	return nil
}

// refreshUser reloads one user and reports whether they stay registered.
func (r *Refresher) refreshUser(ctx context.Context, wallet string) bool {
	var (
		items      []store.WatchlistItem
		settings   store.Settings
		privateKey string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = r.store.Watchlist(gctx, wallet)
		if err != nil {
			return fmt.Errorf("watchlist: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		settings = r.store.Settings(gctx, wallet)
		return nil
	})
	g.Go(func() error {
		var err error
		privateKey, err = r.store.PrivateKey(gctx, wallet)
		if errors.Is(err, store.ErrKeyDecryption) {
			logrus.WithFields(logrus.Fields{
				"user":  logger.ShortKey(wallet, 8),
				"error": utils.SanitizeError(err),
			}).Warn("⚠️ Private key cannot be decrypted, user not registered")
			privateKey = ""
			return nil
		}
		if err != nil {
			return fmt.Errorf("private key: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.WithFields(logrus.Fields{
			"user":  logger.ShortKey(wallet, 8),
			"error": utils.SanitizeError(err),
		}).Error("❌ Failed to refresh user")
		return true
	}

	if privateKey == "" {
		return false
	}

	watchlist := make(map[solana.PublicKey]float64, len(items))
	for _, item := range items {
		mint, err := solana.PublicKeyFromBase58(item.MintAddress)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user": logger.ShortKey(wallet, 8),
				"mint": item.MintAddress,
			}).Warn("⚠️ Skipping invalid watchlist mint")
			continue
		}
		watchlist[mint] = item.BuyAmount
	}

	r.registry.RegisterUser(ctx, wallet, privateKey, settings, watchlist)
	return true
}

// Run refreshes every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("❌ User refresh failed")
			}
		}
	}
}

// RunHeartbeat writes a heartbeat for every registered user each period.
func (r *Refresher) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Heartbeat(ctx)
		}
	}
}

// Heartbeat logs a liveness entry and stamps last_heartbeat for every user.
func (r *Refresher) Heartbeat(ctx context.Context) {
	now := time.Now()
	r.forEachUser(ctx, func(ctx context.Context, wallet string) error {
		if err := r.store.LogActivity(ctx, wallet, store.LevelInfo, HeartbeatMessage); err != nil {
			return err
		}
		return r.store.UpdateHeartbeat(ctx, wallet, now)
	})
}

// Broadcast writes one activity log entry for every registered user.
func (r *Refresher) Broadcast(ctx context.Context, level, message string) {
	r.forEachUser(ctx, func(ctx context.Context, wallet string) error {
		return r.store.LogActivity(ctx, wallet, level, message)
	})
}

// ConnectionChanged reports stream state to users. Its signature matches
// monitor.ConnectionListener.
func (r *Refresher) ConnectionChanged(ctx context.Context, connected bool, err error) {
	if connected {
		r.Broadcast(ctx, store.LevelInfo, ConnectedMessage)
		return
	}
	r.Broadcast(ctx, store.LevelError, fmt.Sprintf(disconnectedMessage, utils.SanitizeError(err)))
}

func (r *Refresher) forEachUser(ctx context.Context, fn func(ctx context.Context, wallet string) error) {
	var g errgroup.Group
	for _, wallet := range r.registry.UserIDs() {
		g.Go(func() error {
			if err := fn(ctx, wallet); err != nil {
				logrus.WithFields(logrus.Fields{
					"user":  logger.ShortKey(wallet, 8),
					"error": utils.SanitizeError(err),
				}).Debug("Activity log write failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
