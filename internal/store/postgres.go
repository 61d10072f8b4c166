package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore reads and writes the dashboard tables directly.
type PostgresStore struct {
	pool          *pgxpool.Pool
	encryptionKey string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn, encryptionKey string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, encryptionKey: encryptionKey}, nil
}

// EnsureSchema creates missing tables. It is safe to run repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet_address FROM sniper_status WHERE is_running = true`)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	wallets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active users: %w", err)
	}
	return wallets, nil
}

func (s *PostgresStore) Watchlist(ctx context.Context, wallet string) ([]WatchlistItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, wallet_address, mint_address, buy_amount, is_active, sniped
		FROM watchlist
		WHERE wallet_address = $1 AND is_active = true
	`, wallet)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var items []WatchlistItem
	for rows.Next() {
		var item WatchlistItem
		if err := rows.Scan(&item.ID, &item.WalletAddress, &item.MintAddress, &item.BuyAmount, &item.IsActive, &item.Sniped); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Settings(ctx context.Context, wallet string) Settings {
	var row settingsRow
	err := s.pool.QueryRow(ctx, `
		SELECT slippage, priority_fee, telegram_user_id
		FROM user_settings
		WHERE wallet_address = $1
	`, wallet).Scan(&row.Slippage, &row.PriorityFee, &row.TelegramUserID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			logrus.WithError(err).WithField("wallet", wallet).Debug("Settings unavailable, using defaults")
		}
		return DefaultSettings()
	}
	return row.settings()
}

func (s *PostgresStore) PrivateKey(ctx context.Context, wallet string) (string, error) {
	var stored *string
	err := s.pool.QueryRow(ctx, `SELECT encrypted_private_key FROM users WHERE wallet_address = $1`, wallet).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query private key: %w", err)
	}
	if stored == nil {
		return "", nil
	}
	return decryptStoredKey(*stored, s.encryptionKey)
}

func (s *PostgresStore) LogTrade(ctx context.Context, trade TradeLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_logs (wallet_address, mint_address, action, amount_sol, tx_signature, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, trade.WalletAddress, trade.MintAddress, trade.Action, trade.AmountSOL,
		nullIfEmpty(trade.Signature), trade.Status, nullIfEmpty(trade.Error))
	if err != nil {
		return fmt.Errorf("insert trade log: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogActivity(ctx context.Context, wallet, level, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_logs (wallet_address, log_type, message) VALUES ($1, $2, $3)
	`, wallet, level, message)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSniped(ctx context.Context, wallet, mint string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE watchlist SET sniped = true, sniped_at = $3
		WHERE wallet_address = $1 AND mint_address = $2
	`, wallet, mint, at)
	if err != nil {
		return fmt.Errorf("mark sniped: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateHeartbeat(ctx context.Context, wallet string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE sniper_status SET last_heartbeat = $2 WHERE wallet_address = $1`, wallet, at)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}
