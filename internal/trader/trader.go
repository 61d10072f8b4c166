package trader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"bags-claim-sniper/internal/jupiter"
	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/tracker"
	"bags-claim-sniper/internal/utils"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// SwapBuilder turns a SOL amount into an unsigned swap transaction.
type SwapBuilder interface {
	Quote(ctx context.Context, outputMint solana.PublicKey, lamportsIn uint64, slippageBps uint16) (*jupiter.Quote, error)
	SwapTransaction(ctx context.Context, quote *jupiter.Quote, payer solana.PublicKey, priorityFeeLamports uint64) (string, error)
}

// Broadcaster lands signed transactions.
type Broadcaster interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	// Submit returns once the transaction is confirmed, or fails.
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

var ErrZeroAmount = errors.New("buy amount rounds to zero lamports")

// TradeResult describes a completed buy.
type TradeResult struct {
	Signature string
	Simulated bool
	Latency   time.Duration
}

// Executor performs buys with each user's own key.
type Executor struct {
	swaps       SwapBuilder
	broadcaster Broadcaster
	simulate    bool
}

func NewExecutor(swaps SwapBuilder, broadcaster Broadcaster, simulate bool) *Executor {
	return &Executor{
		swaps:       swaps,
		broadcaster: broadcaster,
		simulate:    simulate,
	}
}

// Buy spends action.AmountSOL on action.Token and waits for confirmation.
func (e *Executor) Buy(ctx context.Context, action tracker.Action) (*TradeResult, error) {
	start := time.Now()

	wallet, err := solana.PrivateKeyFromBase58(action.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key for %s: %s", utils.SanitizeWalletAddress(action.UserID), utils.SanitizeError(err))
	}
	payer := wallet.PublicKey()

	lamports := tracker.Lamports(action.AmountSOL)
	if lamports == 0 {
		return nil, ErrZeroAmount
	}

	logrus.WithFields(logrus.Fields{
		"user":         logger.ShortKey(action.UserID, 8),
		"token":        action.Token.String(),
		"amount":       logger.FormatSOL(action.AmountSOL),
		"slippage_bps": action.SlippageBps,
		"priority_fee": action.PriorityFeeLamports,
	}).Info("🚀 Executing buy")

	if e.simulate {
		return e.simulateBuy(action, start), nil
	}

	quote, err := e.swaps.Quote(ctx, action.Token, lamports, action.SlippageBps)
	if err != nil {
		return nil, err
	}

	encoded, err := e.swaps.SwapTransaction(ctx, quote, payer, action.PriorityFeeLamports)
	if err != nil {
		return nil, err
	}

	tx, err := e.prepare(ctx, encoded, wallet)
	if err != nil {
		return nil, err
	}

	signature, err := e.broadcaster.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}

	result := &TradeResult{
		Signature: signature.String(),
		Latency:   time.Since(start),
	}

	logrus.WithFields(logrus.Fields{
		"user":    logger.ShortKey(action.UserID, 8),
		"token":   action.Token.String(),
		"url":     "https://solscan.io/tx/" + result.Signature,
		"latency": result.Latency.Milliseconds(),
	}).Info("🎉 [LIVE] Buy confirmed")

	return result, nil
}

// prepare decodes the swap transaction, refreshes its blockhash and signs
// it with wallet.
func (e *Executor) prepare(ctx context.Context, encoded string, wallet solana.PrivateKey) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse swap transaction: %w", err)
	}

	blockhash, err := e.broadcaster.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = blockhash

	// Jupiter returns placeholder signatures and Sign appends.
	tx.Signatures = nil
	payer := wallet.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &wallet
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign swap transaction: %w", err)
	}

	return tx, nil
}

func (e *Executor) simulateBuy(action tracker.Action, start time.Time) *TradeResult {
	result := &TradeResult{
		Signature: fmt.Sprintf("SIMULATION_%s_%d", logger.ShortKey(action.Token.String(), 8), start.UnixMilli()),
		Simulated: true,
		Latency:   time.Since(start),
	}

	logrus.WithFields(logrus.Fields{
		"token":     action.Token.String(),
		"signature": result.Signature,
		"amount":    logger.FormatSOL(action.AmountSOL),
	}).Info("📝 [SIMULATION] Buy completed")

	return result
}
