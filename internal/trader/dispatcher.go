package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/store"
	"bags-claim-sniper/internal/tracker"

	"github.com/sirupsen/logrus"
)

// Buyer executes one matched action.
type Buyer interface {
	Buy(ctx context.Context, action tracker.Action) (*TradeResult, error)
}

// TradeStore is the part of the store trades are reported to.
type TradeStore interface {
	LogTrade(ctx context.Context, trade store.TradeLog) error
	MarkSniped(ctx context.Context, wallet, mint string, at time.Time) error
}

// Notifier alerts users about their trades.
type Notifier interface {
	ClaimDetected(ctx context.Context, chatID, mint string) error
	TradeSuccess(ctx context.Context, chatID, mint string, amountSOL float64, signature string) error
	TradeFailed(ctx context.Context, chatID, mint string, amountSOL float64, reason string) error
}

// TradeRecorder receives trade outcomes for metrics.
type TradeRecorder interface {
	RecordTrade(success bool, latency time.Duration)
}

// Pricer values SOL amounts in USD for logging.
type Pricer interface {
	USDValue(sol float64) (float64, bool)
}

// Dispatcher runs every action in its own goroutine. Outcomes are recorded
// and notified; a failed buy is never retried.
type Dispatcher struct {
	buyer    Buyer
	store    TradeStore
	notifier Notifier
	recorder TradeRecorder
	pricer   Pricer
	wg       sync.WaitGroup
}

func NewDispatcher(buyer Buyer, tradeStore TradeStore, notifier Notifier, recorder TradeRecorder) *Dispatcher {
	return &Dispatcher{
		buyer:    buyer,
		store:    tradeStore,
		notifier: notifier,
		recorder: recorder,
	}
}

// SetPricer adds a USD value to success logs.
func (d *Dispatcher) SetPricer(p Pricer) {
	d.pricer = p
}

// Dispatch starts the actions and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []tracker.Action) {
	for _, action := range actions {
		d.wg.Add(1)
		go func(action tracker.Action) {
			defer d.wg.Done()
			d.execute(ctx, action)
		}(action)
	}
}

// Wait blocks until every dispatched action has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, action tracker.Action) {
	mint := action.Token.String()
	fields := logrus.Fields{
		"user":   logger.ShortKey(action.UserID, 8),
		"token":  mint,
		"amount": logger.FormatSOL(action.AmountSOL),
	}

	if err := d.notifier.ClaimDetected(ctx, action.TelegramChatID, mint); err != nil {
		logrus.WithError(err).WithFields(fields).Warn("⚠️ Claim notification failed")
	}

	start := time.Now()
	result, err := d.buyer.Buy(ctx, action)
	if d.recorder != nil {
		d.recorder.RecordTrade(err == nil, time.Since(start))
	}

	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("❌ Trade failed")

		if logErr := d.store.LogTrade(ctx, store.TradeLog{
			WalletAddress: action.UserID,
			MintAddress:   mint,
			Action:        store.ActionBuy,
			AmountSOL:     action.AmountSOL,
			Status:        store.TradeFailed,
			Error:         err.Error(),
		}); logErr != nil {
			logrus.WithError(logErr).WithFields(fields).Warn("⚠️ Failed to record trade")
		}
		if nErr := d.notifier.TradeFailed(ctx, action.TelegramChatID, mint, action.AmountSOL, err.Error()); nErr != nil {
			logrus.WithError(nErr).WithFields(fields).Warn("⚠️ Failure notification failed")
		}
		return
	}

	fields["signature"] = result.Signature
	if d.pricer != nil {
		if usd, ok := d.pricer.USDValue(action.AmountSOL); ok {
			fields["usd"] = fmt.Sprintf("$%.2f", usd)
		}
	}
	logrus.WithFields(fields).Info("✅ Trade success")

	if logErr := d.store.LogTrade(ctx, store.TradeLog{
		WalletAddress: action.UserID,
		MintAddress:   mint,
		Action:        store.ActionBuy,
		AmountSOL:     action.AmountSOL,
		Signature:     result.Signature,
		Status:        store.TradeSuccess,
	}); logErr != nil {
		logrus.WithError(logErr).WithFields(fields).Warn("⚠️ Failed to record trade")
	}
	if err := d.store.MarkSniped(ctx, action.UserID, mint, time.Now()); err != nil {
		logrus.WithError(err).WithFields(fields).Warn("⚠️ Failed to mark token sniped")
	}
	if err := d.notifier.TradeSuccess(ctx, action.TelegramChatID, mint, action.AmountSOL, result.Signature); err != nil {
		logrus.WithError(err).WithFields(fields).Warn("⚠️ Success notification failed")
	}
}
