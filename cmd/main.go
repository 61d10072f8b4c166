// Package main runs the Bags fee-claim sniper. It streams Bags fee-share
// program transactions over Yellowstone gRPC and, when a token creator
// claims fees on a token a user watches, buys that token for the user
// through Jupiter.
//
// The engine operates in four stages:
// 1. Refresh: Polls the dashboard store for active users, watchlists and keys
// 2. Monitor: Streams confirmed transactions of both fee-share programs
// 3. Sniper: Classifies claims and matches them against every watchlist
// 4. Trader: Executes one buy per user and token, then records and notifies
//
// Usage:
//
//	go run ./cmd                    # Live trading mode
//	go run ./cmd --simulate         # Simulation mode
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bags-claim-sniper/internal/config"
	"bags-claim-sniper/internal/jupiter"
	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/monitor"
	"bags-claim-sniper/internal/notify"
	"bags-claim-sniper/internal/parser"
	"bags-claim-sniper/internal/price"
	"bags-claim-sniper/internal/refresh"
	"bags-claim-sniper/internal/resolver"
	"bags-claim-sniper/internal/sniper"
	"bags-claim-sniper/internal/store"
	"bags-claim-sniper/internal/tracker"
	"bags-claim-sniper/internal/trader"
	"bags-claim-sniper/internal/utils"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// storeTimeout bounds every dashboard store and Telegram call.
const storeTimeout = 10 * time.Second

// main is the entry point of the claim sniper.
// It handles command-line flags, configuration loading, logging setup,
// and orchestrates the startup of all engine components.
func main() {
	simulate := flag.Bool("simulate", false, "Simulation mode (no real trades)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *simulate {
		cfg.SimulateMode = true
	}

	logger.Setup(cfg.LogLevel)
	logger.LogStartup(cfg.SimulateMode)
	cfg.LogConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logrus.Info("🛑 Shutdown signal received, stopping gracefully...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatalf("Sniper failed: %v", err)
	}
	logrus.Info("✅ All services stopped, shut down complete")
}

// run wires every component and blocks until ctx is cancelled.
//
// The flow for each stream update:
// Monitor -> Sniper (Parser -> Registry.Match + SnipeGuard) -> Dispatcher -> Executor
func run(ctx context.Context, cfg *config.Config) error {
	programs, err := parser.NewPrograms(cfg.BagsV1ProgramID, cfg.BagsV2ProgramID)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rpcClient := rpc.New(cfg.RPCEndpoint)
	if _, err := rpcClient.GetHealth(ctx); err != nil {
		logrus.WithField("error", utils.SanitizeError(err, cfg.RPCEndpoint)).Warn("⚠️ Solana RPC health check failed")
	} else {
		logger.LogConnection("Solana RPC", "connected")
	}

	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	priceService := price.NewPriceService(price.DefaultURL, cfg.GetTimeout())
	priceService.Start(ctx)
	registry.MustRegister(priceService.Collector())

	res := resolver.New(programs, resolver.NewRPCMetadataSource(rpcClient), cfg.GetTimeout())
	users := tracker.NewRegistry(res)
	guard := tracker.NewSnipeGuard()

	executor := trader.NewExecutor(
		jupiter.NewClient(cfg.JupiterAPIURL, cfg.JupiterRPS, cfg.GetTimeout()),
		trader.NewRPCBroadcaster(rpcClient, cfg.ConfirmTimeout),
		cfg.SimulateMode,
	)
	dispatcher := trader.NewDispatcher(executor, st, notify.New(newTelegramSender(cfg)), metrics)
	dispatcher.SetPricer(priceService)

	engine := sniper.New(parser.NewClaimParser(programs), users, res.Vaults(), guard, dispatcher, metrics)

	refresher := refresh.New(st, users, metrics, cfg.RefreshInterval, cfg.HeartbeatInterval)
	logrus.Info("📦 Loading active users...")
	if err := refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("initial user load: %w", err)
	}
	logrus.WithField("users", users.Count()).Info("✅ Active users loaded")

	go refresher.Run(ctx)
	go refresher.RunHeartbeat(ctx)
	go logMetrics(ctx, metrics, priceService, guard)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := monitor.ServeMetrics(ctx, cfg.MetricsAddr, registry); err != nil {
				logrus.WithError(err).Error("❌ Metrics server failed")
			}
		}()
	}

	claimMonitor := monitor.NewClaimMonitor(cfg, programs, engine.ProcessUpdate, metrics)
	claimMonitor.OnConnectionChange(refresher.ConnectionChanged)

	logrus.Info("🚀 Sniper pipeline started: Monitor → Parser → Match → Trader")
	err = claimMonitor.Run(ctx)

	logrus.Info("⏳ Waiting for in-flight trades...")
	dispatcher.Wait()
	metrics.LogMetrics()
	return err
}

// openStore selects the store backend from configuration. The returned
// close function is always safe to call.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.LogConnection("Postgres", "connected")
		return pg, pg.Close, nil
	default:
		sb := store.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.EncryptionKey, storeTimeout)
		return sb, func() {}, nil
	}
}

// newTelegramSender logs in the notification bot. Notifications are
// disabled when no token is configured or the login fails.
func newTelegramSender(cfg *config.Config) notify.Sender {
	if cfg.TelegramBotToken == "" {
		logrus.Info("🔕 Telegram notifications disabled")
		return nil
	}

	sender, err := notify.NewTelegramSender(cfg.TelegramBotToken, "", storeTimeout)
	if err != nil {
		logrus.WithField("error", utils.SanitizeError(err)).Warn("⚠️ Telegram login failed, notifications disabled")
		return nil
	}
	logrus.WithField("bot", sender.Username()).Info("🔔 Telegram notifications enabled")
	return sender
}

// logMetrics prints a performance summary every minute.
func logMetrics(ctx context.Context, metrics *monitor.Metrics, prices *price.PriceService, guard *tracker.SnipeGuard) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.LogMetrics()

			fields := logrus.Fields{"sniped_pairs": guard.Len()}
			if updated := prices.GetLastUpdated(); updated.IsZero() {
				fields["sol_price"] = "unknown"
			} else {
				fields["sol_price"] = fmt.Sprintf("$%.2f", prices.GetPrice())
				fields["price_age"] = time.Since(updated).Round(time.Second).String()
			}
			logrus.WithFields(fields).Info("📊 Engine state")
		}
	}
}
