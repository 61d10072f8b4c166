package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bags-claim-sniper/internal/secret"

	"github.com/sirupsen/logrus"
)

// SupabaseStore talks to the dashboard's Supabase project over PostgREST.
type SupabaseStore struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	encryptionKey string
}

var _ Store = (*SupabaseStore)(nil)

// NewSupabaseStore creates a PostgREST client authenticated with the
// service role key.
func NewSupabaseStore(baseURL, apiKey, encryptionKey string, timeout time.Duration) *SupabaseStore {
	return &SupabaseStore{
		client:        &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		encryptionKey: encryptionKey,
	}
}

type activeUserRow struct {
	WalletAddress string `json:"wallet_address"`
	IsRunning     bool   `json:"is_running"`
}

type settingsRow struct {
	Slippage       *float64 `json:"slippage"`
	PriorityFee    *float64 `json:"priority_fee"`
	TelegramUserID *string  `json:"telegram_user_id"`
}

type userRow struct {
	WalletAddress       string  `json:"wallet_address"`
	EncryptedPrivateKey *string `json:"encrypted_private_key"`
}

func (s *SupabaseStore) ActiveUsers(ctx context.Context) ([]string, error) {
	var rows []activeUserRow
	query := url.Values{
		"is_running": {"eq.true"},
		"select":     {"wallet_address,is_running"},
	}
	if err := s.do(ctx, http.MethodGet, "sniper_status", query, nil, &rows); err != nil {
		return nil, err
	}

	wallets := make([]string, 0, len(rows))
	for _, row := range rows {
		wallets = append(wallets, row.WalletAddress)
	}
	return wallets, nil
}

func (s *SupabaseStore) Watchlist(ctx context.Context, wallet string) ([]WatchlistItem, error) {
	var items []WatchlistItem
	query := url.Values{
		"wallet_address": {"eq." + wallet},
		"is_active":      {"eq.true"},
		"select":         {"*"},
	}
	if err := s.do(ctx, http.MethodGet, "watchlist", query, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SupabaseStore) Settings(ctx context.Context, wallet string) Settings {
	var rows []settingsRow
	query := url.Values{
		"wallet_address": {"eq." + wallet},
		"select":         {"*"},
	}
	if err := s.do(ctx, http.MethodGet, "user_settings", query, nil, &rows); err != nil {
		logrus.WithError(err).WithField("wallet", wallet).Debug("Settings unavailable, using defaults")
		return DefaultSettings()
	}
	if len(rows) == 0 {
		return DefaultSettings()
	}
	return rows[0].settings()
}

func (r settingsRow) settings() Settings {
	settings := DefaultSettings()
	if r.Slippage != nil {
		settings.SlippagePercent = *r.Slippage
	}
	if r.PriorityFee != nil {
		settings.PriorityFeeSOL = *r.PriorityFee
	}
	if r.TelegramUserID != nil {
		settings.TelegramChatID = *r.TelegramUserID
	}
	return settings
}

func (s *SupabaseStore) PrivateKey(ctx context.Context, wallet string) (string, error) {
	var rows []userRow
	query := url.Values{
		"wallet_address": {"eq." + wallet},
		"select":         {"wallet_address,encrypted_private_key"},
	}
	if err := s.do(ctx, http.MethodGet, "users", query, nil, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].EncryptedPrivateKey == nil {
		return "", nil
	}
	return decryptStoredKey(*rows[0].EncryptedPrivateKey, s.encryptionKey)
}

func (s *SupabaseStore) LogTrade(ctx context.Context, trade TradeLog) error {
	body := map[string]interface{}{
		"wallet_address": trade.WalletAddress,
		"mint_address":   trade.MintAddress,
		"action":         trade.Action,
		"amount_sol":     trade.AmountSOL,
		"tx_signature":   nullIfEmpty(trade.Signature),
		"status":         trade.Status,
		"error_message":  nullIfEmpty(trade.Error),
	}
	return s.do(ctx, http.MethodPost, "trade_logs", nil, body, nil)
}

func (s *SupabaseStore) LogActivity(ctx context.Context, wallet, level, message string) error {
	body := map[string]interface{}{
		"wallet_address": wallet,
		"log_type":       level,
		"message":        message,
	}
	return s.do(ctx, http.MethodPost, "activity_logs", nil, body, nil)
}

func (s *SupabaseStore) MarkSniped(ctx context.Context, wallet, mint string, at time.Time) error {
	query := url.Values{
		"wallet_address": {"eq." + wallet},
		"mint_address":   {"eq." + mint},
	}
	body := map[string]interface{}{
		"sniped":    true,
		"sniped_at": at.UTC().Format(time.RFC3339),
	}
	return s.do(ctx, http.MethodPatch, "watchlist", query, body, nil)
}

func (s *SupabaseStore) UpdateHeartbeat(ctx context.Context, wallet string, at time.Time) error {
	query := url.Values{"wallet_address": {"eq." + wallet}}
	body := map[string]interface{}{
		"last_heartbeat": at.UTC().Format(time.RFC3339),
	}
	return s.do(ctx, http.MethodPatch, "sniper_status", query, body, nil)
}

func (s *SupabaseStore) do(ctx context.Context, method, table string, query url.Values, body, out interface{}) error {
	endpoint := s.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", table, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", table, err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase %s %s: status %d: %s", method, table, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", table, err)
	}
	return nil
}

func decryptStoredKey(stored, encryptionKey string) (string, error) {
	if secret.IsEncrypted(stored) && encryptionKey == "" {
		return "", fmt.Errorf("%w: ENCRYPTION_KEY is not set", ErrKeyDecryption)
	}
	key, err := secret.DecryptPrivateKey(stored, encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyDecryption, err)
	}
	return key, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
