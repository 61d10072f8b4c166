// Package notify sends best-effort trade alerts to users' Telegram chats.
package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"bags-claim-sniper/internal/logger"

	"github.com/sirupsen/logrus"
)

// Sender delivers one HTML message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// Notifier formats sniper alerts. A Notifier without a sender, or a call
// with an empty chat id, does nothing.
type Notifier struct {
	sender Sender
}

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) ClaimDetected(ctx context.Context, chatID, mint string) error {
	return n.send(ctx, chatID, ClaimDetectedMessage(mint))
}

func (n *Notifier) TradeSuccess(ctx context.Context, chatID, mint string, amountSOL float64, signature string) error {
	return n.send(ctx, chatID, TradeSuccessMessage(mint, amountSOL, signature))
}

func (n *Notifier) TradeFailed(ctx context.Context, chatID, mint string, amountSOL float64, reason string) error {
	return n.send(ctx, chatID, TradeFailedMessage(mint, amountSOL, reason))
}

func (n *Notifier) send(ctx context.Context, chatID, text string) error {
	if n == nil || n.sender == nil || chatID == "" {
		return nil
	}
	if err := n.sender.Send(ctx, chatID, text); err != nil {
		return fmt.Errorf("notify chat %s: %w", chatID, err)
	}
	logrus.WithField("chat", chatID).Debug("📱 Telegram notification sent")
	return nil
}

func ClaimDetectedMessage(mint string) string {
	return fmt.Sprintf("👀 <b>BAGS SNIPER - CLAIM DETECTED!</b>\n\n"+
		"🎯 Executing snipe for:\n"+
		"<code>%s</code>\n\n"+
		"⏳ Processing...", html.EscapeString(mint))
}

func TradeSuccessMessage(mint string, amountSOL float64, signature string) string {
	return fmt.Sprintf("🎯 <b>BAGS SNIPER - TRADE EXECUTED!</b>\n\n"+
		"✅ <b>Status:</b> SUCCESS\n"+
		"🪙 <b>Token:</b> <code>%s</code>\n"+
		"💰 <b>Amount:</b> %s SOL\n\n"+
		"🔗 <a href=\"https://solscan.io/tx/%s\">View Transaction</a>",
		html.EscapeString(mint), formatAmount(amountSOL), html.EscapeString(signature))
}

func TradeFailedMessage(mint string, amountSOL float64, reason string) string {
	return fmt.Sprintf("❌ <b>BAGS SNIPER - TRADE FAILED</b>\n\n"+
		"🪙 <b>Token:</b> <code>%s</code>\n"+
		"💰 <b>Amount:</b> %s SOL\n"+
		"⚠️ <b>Error:</b> %s\n\n"+
		"Check your settings and try again.",
		html.EscapeString(mint), formatAmount(amountSOL), html.EscapeString(logger.ShortKey(reason, 300)))
}

func formatAmount(sol float64) string {
	return strconv.FormatFloat(sol, 'f', -1, 64)
}
