package trader

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"bags-claim-sniper/internal/jupiter"
	"bags-claim-sniper/internal/tracker"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMint = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")

type fakeSwaps struct {
	quoteErr    error
	swapErr     error
	encoded     string
	lamportsIn  uint64
	slippageBps uint16
	payer       solana.PublicKey
	priorityFee uint64
}

func (f *fakeSwaps) Quote(_ context.Context, _ solana.PublicKey, lamportsIn uint64, slippageBps uint16) (*jupiter.Quote, error) {
	f.lamportsIn = lamportsIn
	f.slippageBps = slippageBps
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &jupiter.Quote{OutAmount: "1000"}, nil
}

func (f *fakeSwaps) SwapTransaction(_ context.Context, _ *jupiter.Quote, payer solana.PublicKey, priorityFee uint64) (string, error) {
	f.payer = payer
	f.priorityFee = priorityFee
	if f.swapErr != nil {
		return "", f.swapErr
	}
	return f.encoded, nil
}

type fakeBroadcaster struct {
	blockhash solana.Hash
	submitted *solana.Transaction
	err       error
}

func (f *fakeBroadcaster) LatestBlockhash(context.Context) (solana.Hash, error) {
	return f.blockhash, nil
}

func (f *fakeBroadcaster) Submit(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.submitted = tx
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	return tx.Signatures[0], nil
}

// unsignedSwap builds a transaction shaped like a Jupiter response: one
// zeroed placeholder signature for the payer.
func unsignedSwap(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, testMint).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{}}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func newAction(t *testing.T) (tracker.Action, solana.PrivateKey) {
	t.Helper()
	wallet, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return tracker.Action{
		UserID:              wallet.PublicKey().String(),
		PrivateKey:          wallet.String(),
		Token:               testMint,
		AmountSOL:           0.5,
		SlippageBps:         1500,
		PriorityFeeLamports: 100_000,
	}, wallet
}

func TestExecutor_BuySignsWithFreshBlockhash(t *testing.T) {
	action, wallet := newAction(t)
	swaps := &fakeSwaps{encoded: unsignedSwap(t, wallet.PublicKey())}
	blockhash := solana.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn")
	broadcaster := &fakeBroadcaster{blockhash: blockhash}

	result, err := NewExecutor(swaps, broadcaster, false).Buy(context.Background(), action)
	require.NoError(t, err)
	assert.False(t, result.Simulated)

	assert.Equal(t, uint64(500_000_000), swaps.lamportsIn)
	assert.Equal(t, uint16(1500), swaps.slippageBps)
	assert.Equal(t, wallet.PublicKey(), swaps.payer)
	assert.Equal(t, uint64(100_000), swaps.priorityFee)

	tx := broadcaster.submitted
	require.NotNil(t, tx)
	assert.Equal(t, blockhash, tx.Message.RecentBlockhash)
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0].String(), result.Signature)
}

func TestExecutor_Simulate(t *testing.T) {
	action, _ := newAction(t)
	swaps := &fakeSwaps{quoteErr: errors.New("must not be called")}

	result, err := NewExecutor(swaps, &fakeBroadcaster{}, true).Buy(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Simulated)
	assert.True(t, strings.HasPrefix(result.Signature, "SIMULATION_"))
	assert.Zero(t, swaps.lamportsIn)
}

func TestExecutor_Failures(t *testing.T) {
	t.Run("invalid key", func(t *testing.T) {
		action, _ := newAction(t)
		action.PrivateKey = "not-a-key"
		_, err := NewExecutor(&fakeSwaps{}, &fakeBroadcaster{}, false).Buy(context.Background(), action)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "not-a-key")
	})

	t.Run("zero amount", func(t *testing.T) {
		action, _ := newAction(t)
		action.AmountSOL = 0
		_, err := NewExecutor(&fakeSwaps{}, &fakeBroadcaster{}, false).Buy(context.Background(), action)
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("quote", func(t *testing.T) {
		action, _ := newAction(t)
		_, err := NewExecutor(&fakeSwaps{quoteErr: errors.New("no route")}, &fakeBroadcaster{}, false).Buy(context.Background(), action)
		assert.EqualError(t, err, "no route")
	})

	t.Run("bad transaction", func(t *testing.T) {
		action, _ := newAction(t)
		_, err := NewExecutor(&fakeSwaps{encoded: "!!!"}, &fakeBroadcaster{}, false).Buy(context.Background(), action)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode swap transaction")
	})

	t.Run("foreign signer", func(t *testing.T) {
		action, _ := newAction(t)
		other, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		swaps := &fakeSwaps{encoded: unsignedSwap(t, other.PublicKey())}
		_, err = NewExecutor(swaps, &fakeBroadcaster{}, false).Buy(context.Background(), action)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sign swap transaction")
	})

	t.Run("broadcast", func(t *testing.T) {
		action, wallet := newAction(t)
		swaps := &fakeSwaps{encoded: unsignedSwap(t, wallet.PublicKey())}
		_, err := NewExecutor(swaps, &fakeBroadcaster{err: ErrNotConfirmed}, false).Buy(context.Background(), action)
		assert.ErrorIs(t, err, ErrNotConfirmed)
	})
}
