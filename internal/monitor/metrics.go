package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"bags-claim-sniper/internal/parser"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds engine counters. Values are exported to Prometheus and
// mirrored locally for the periodic log summary.
type Metrics struct {
	updates    prometheus.Counter
	claims     *prometheus.CounterVec
	dispatched prometheus.Counter
	trades     *prometheus.CounterVec
	latency    prometheus.Histogram
	reconnects prometheus.Counter
	users      prometheus.Gauge

	updatesSeen      atomic.Int64
	claimsSeen       atomic.Int64
	successfulTrades atomic.Int64
	failedTrades     atomic.Int64
	totalLatencyMS   atomic.Int64
	reconnectCount   atomic.Int64

	StartTime time.Time
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bags_sniper",
			Name:      "stream_updates_total",
			Help:      "Updates received from the gRPC stream.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bags_sniper",
			Name:      "claims_detected_total",
			Help:      "Fee claim instructions detected, by kind.",
		}, []string{"kind"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bags_sniper",
			Name:      "actions_dispatched_total",
			Help:      "Buy actions handed to the dispatcher.",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bags_sniper",
			Name:      "trades_total",
			Help:      "Completed buy attempts, by outcome.",
		}, []string{"status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bags_sniper",
			Name:      "trade_latency_seconds",
			Help:      "Time from dispatch to confirmed or failed buy.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bags_sniper",
			Name:      "stream_reconnects_total",
			Help:      "gRPC stream reconnect attempts.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bags_sniper",
			Name:      "active_users",
			Help:      "Users currently registered for sniping.",
		}),
		StartTime: time.Now(),
	}

	reg.MustRegister(m.updates, m.claims, m.dispatched, m.trades, m.latency, m.reconnects, m.users)
	return m
}

func (m *Metrics) RecordUpdate() {
	m.updates.Inc()
	m.updatesSeen.Add(1)
}

func (m *Metrics) RecordClaim(kind parser.ClaimKind) {
	m.claims.WithLabelValues(kind.String()).Inc()
	m.claimsSeen.Add(1)
}

func (m *Metrics) RecordDispatch(n int) {
	m.dispatched.Add(float64(n))
}

// RecordTrade records one buy outcome.
func (m *Metrics) RecordTrade(success bool, latency time.Duration) {
	status := "failed"
	if success {
		status = "success"
		m.successfulTrades.Add(1)
	} else {
		m.failedTrades.Add(1)
	}
	m.trades.WithLabelValues(status).Inc()
	m.latency.Observe(latency.Seconds())
	m.totalLatencyMS.Add(latency.Milliseconds())
}

func (m *Metrics) RecordReconnect() {
	m.reconnects.Inc()
	m.reconnectCount.Add(1)
}

func (m *Metrics) SetActiveUsers(n int) {
	m.users.Set(float64(n))
}

// GetAverageLatency returns the mean trade latency in milliseconds.
func (m *Metrics) GetAverageLatency() float64 {
	total := m.successfulTrades.Load() + m.failedTrades.Load()
	if total == 0 {
		return 0
	}
	return float64(m.totalLatencyMS.Load()) / float64(total)
}

// GetSuccessRate returns the success rate as a percentage
func (m *Metrics) GetSuccessRate() float64 {
	success := m.successfulTrades.Load()
	total := success + m.failedTrades.Load()
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total) * 100
}

func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.StartTime)
}

// LogMetrics logs current metrics in a human-readable format
func (m *Metrics) LogMetrics() {
	logrus.WithFields(logrus.Fields{
		"updates":      m.updatesSeen.Load(),
		"claims":       m.claimsSeen.Load(),
		"successful":   m.successfulTrades.Load(),
		"failed":       m.failedTrades.Load(),
		"reconnects":   m.reconnectCount.Load(),
		"avg_latency":  m.GetAverageLatency(),
		"success_rate": m.GetSuccessRate(),
		"uptime":       m.GetUptime().Truncate(time.Second),
	}).Info("📊 Performance Metrics")
}

// ServeMetrics exposes gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", addr).Info("📈 Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
