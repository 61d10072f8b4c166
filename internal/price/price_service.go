package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL = "https://lite-api.jup.ag/price/v3"

	solMint = "So11111111111111111111111111111111111111112"
)

// PriceService keeps a cached SOL/USD price from the Jupiter price API.
type PriceService struct {
	currentPrice float64
	lastUpdated  time.Time
	mutex        sync.RWMutex
	client       *http.Client
	baseURL      string
	interval     time.Duration
}

type priceEntry struct {
	USDPrice float64 `json:"usdPrice"`
}

func NewPriceService(baseURL string, timeout time.Duration) *PriceService {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &PriceService{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: 5 * time.Minute,
	}
}

// Start fetches the first price and keeps refreshing it in the background.
// A failed first fetch is not fatal; the price stays 0 until one succeeds.
func (ps *PriceService) Start(ctx context.Context) {
	logrus.Info("💰 Starting SOL price service...")

	if err := ps.fetchPrice(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to fetch initial SOL price")
	} else {
		logrus.WithField("price", fmt.Sprintf("$%.2f", ps.GetPrice())).Info("✅ Initial SOL price fetched")
	}

	go ps.priceUpdateLoop(ctx)
}

func (ps *PriceService) priceUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(ps.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("🛑 SOL price service stopping")
			return
		case <-ticker.C:
			if err := ps.fetchPrice(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to update SOL price")
			} else {
				logrus.WithField("price", fmt.Sprintf("$%.2f", ps.GetPrice())).Debug("💰 SOL price updated")
			}
		}
	}
}

func (ps *PriceService) fetchPrice(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.baseURL+"?ids="+solMint, nil)
	if err != nil {
		return err
	}

	resp, err := ps.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var prices map[string]priceEntry
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return fmt.Errorf("failed to decode price response: %w", err)
	}

	newPrice := prices[solMint].USDPrice
	if newPrice <= 0 {
		return fmt.Errorf("invalid price received: %f", newPrice)
	}

	ps.mutex.Lock()
	oldPrice := ps.currentPrice
	ps.currentPrice = newPrice
	ps.lastUpdated = time.Now()
	ps.mutex.Unlock()

	if oldPrice > 0 {
		change := ((newPrice - oldPrice) / oldPrice) * 100
		if change > 2 || change < -2 {
			logrus.WithFields(logrus.Fields{
				"old_price": fmt.Sprintf("$%.2f", oldPrice),
				"new_price": fmt.Sprintf("$%.2f", newPrice),
				"change":    fmt.Sprintf("%.1f%%", change),
			}).Info("💹 Significant SOL price change detected")
		}
	}

	return nil
}

func (ps *PriceService) GetPrice() float64 {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return ps.currentPrice
}

func (ps *PriceService) GetLastUpdated() time.Time {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return ps.lastUpdated
}

// USDValue converts a SOL amount at the cached price. It reports false
// until a price has been fetched.
func (ps *PriceService) USDValue(sol float64) (float64, bool) {
	p := ps.GetPrice()
	if p <= 0 {
		return 0, false
	}
	return sol * p, true
}

// Collector exposes the cached price as a gauge.
func (ps *PriceService) Collector() prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "bags_sniper",
		Name:      "sol_usd_price",
		Help:      "Last SOL/USD price fetched from Jupiter.",
	}, ps.GetPrice)
}
