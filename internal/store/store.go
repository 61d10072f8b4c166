// Package store reads sniper configuration from, and writes trade and
// activity records to, the dashboard database.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyDecryption means a stored private key exists but cannot be turned
// into a usable key with the configured ENCRYPTION_KEY.
var ErrKeyDecryption = errors.New("stored private key cannot be decrypted")

// Trade statuses and actions recorded in trade_logs.
const (
	ActionBuy = "BUY"

	TradeSuccess = "SUCCESS"
	TradeFailed  = "FAILED"
)

// Activity log levels shown on the dashboard.
const (
	LevelInfo    = "INFO"
	LevelSuccess = "SUCCESS"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Settings are a user's trade parameters.
type Settings struct {
	SlippagePercent float64 `json:"slippage"`
	PriorityFeeSOL  float64 `json:"priority_fee"`
	TelegramChatID  string  `json:"telegram_user_id"`
}

// DefaultSettings applies when a user has no settings row or the store
// cannot be reached.
func DefaultSettings() Settings {
	return Settings{
		SlippagePercent: 15,
		PriorityFeeSOL:  0.0001,
	}
}

// WatchlistItem is one active watchlist row.
type WatchlistItem struct {
	ID            string  `json:"id"`
	WalletAddress string  `json:"wallet_address"`
	MintAddress   string  `json:"mint_address"`
	BuyAmount     float64 `json:"buy_amount"`
	IsActive      bool    `json:"is_active"`
	Sniped        bool    `json:"sniped"`
}

// TradeLog is a trade outcome. Empty Signature and Error are stored as null.
type TradeLog struct {
	WalletAddress string
	MintAddress   string
	Action        string
	AmountSOL     float64
	Signature     string
	Status        string
	Error         string
}

// Store is the durable state the engine polls and reports into.
type Store interface {
	// ActiveUsers returns wallets whose sniper is switched on.
	ActiveUsers(ctx context.Context) ([]string, error)
	Watchlist(ctx context.Context, wallet string) ([]WatchlistItem, error)
	// Settings never fails; it falls back to DefaultSettings.
	Settings(ctx context.Context, wallet string) Settings
	// PrivateKey returns the decrypted key, or "" when none is stored.
	PrivateKey(ctx context.Context, wallet string) (string, error)

	LogTrade(ctx context.Context, trade TradeLog) error
	LogActivity(ctx context.Context, wallet, level, message string) error
	MarkSniped(ctx context.Context, wallet, mint string, at time.Time) error
	UpdateHeartbeat(ctx context.Context, wallet string, at time.Time) error
}
