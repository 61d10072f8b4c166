package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bags-claim-sniper/internal/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
)

var ErrNotConfirmed = errors.New("transaction not confirmed before timeout")

// RPCBroadcaster sends transactions through a Solana RPC node and polls
// their status until confirmed.
type RPCBroadcaster struct {
	client         *rpc.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

func NewRPCBroadcaster(client *rpc.Client, confirmTimeout time.Duration) *RPCBroadcaster {
	return &RPCBroadcaster{
		client:         client,
		confirmTimeout: confirmTimeout,
		pollInterval:   500 * time.Millisecond,
	}
}

func (b *RPCBroadcaster) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := b.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

func (b *RPCBroadcaster) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	signature, err := b.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	logrus.WithField("signature", logger.ShortKey(signature.String(), 8)).Debug("📤 Transaction sent, awaiting confirmation")

	if err := b.awaitConfirmation(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

func (b *RPCBroadcaster) awaitConfirmation(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	timeout := time.After(b.confirmTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			logrus.WithField("signature", logger.ShortKey(signature.String(), 8)).Warn("⏰ Transaction confirmation timeout")
			return fmt.Errorf("%w: %s", ErrNotConfirmed, signature)
		case <-ticker.C:
			statuses, err := b.client.GetSignatureStatuses(ctx, true, signature)
			if err != nil {
				continue
			}
			if len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}

			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", signature, status.Err)
			}

			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				logrus.WithFields(logrus.Fields{
					"signature": logger.ShortKey(signature.String(), 8),
					"status":    string(status.ConfirmationStatus),
					"slot":      status.Slot,
				}).Debug("✅ Transaction confirmed")
				return nil
			}
		}
	}
}
