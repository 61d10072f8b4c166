package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bags-claim-sniper/internal/store"
	"bags-claim-sniper/internal/tracker"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBuyer struct {
	err error
}

func (s *stubBuyer) Buy(_ context.Context, action tracker.Action) (*TradeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &TradeResult{Signature: "sig-" + action.UserID}, nil
}

type recordingStore struct {
	mu     sync.Mutex
	trades []store.TradeLog
	sniped []string
}

func (r *recordingStore) LogTrade(_ context.Context, trade store.TradeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *recordingStore) MarkSniped(_ context.Context, wallet, mint string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sniped = append(r.sniped, wallet+":"+mint)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) add(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) ClaimDetected(_ context.Context, chatID, _ string) error {
	return r.add("claim:" + chatID)
}

func (r *recordingNotifier) TradeSuccess(_ context.Context, chatID, _ string, _ float64, _ string) error {
	return r.add("success:" + chatID)
}

func (r *recordingNotifier) TradeFailed(_ context.Context, chatID, _ string, _ float64, reason string) error {
	return r.add("failed:" + chatID + ":" + reason)
}

type countingRecorder struct {
	mu       sync.Mutex
	success  int
	failures int
}

func (c *countingRecorder) RecordTrade(success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.success++
	} else {
		c.failures++
	}
}

type fixedPricer float64

func (p fixedPricer) USDValue(sol float64) (float64, bool) {
	return sol * float64(p), true
}

func dispatchAction(user string) tracker.Action {
	return tracker.Action{
		UserID:         user,
		Token:          testMint,
		AmountSOL:      0.25,
		TelegramChatID: "chat-" + user,
	}
}

func TestDispatcher_Success(t *testing.T) {
	st := &recordingStore{}
	notifier := &recordingNotifier{}
	recorder := &countingRecorder{}
	d := NewDispatcher(&stubBuyer{}, st, notifier, recorder)
	d.SetPricer(fixedPricer(150))

	d.Dispatch(context.Background(), []tracker.Action{dispatchAction("alice")})
	d.Wait()

	require.Len(t, st.trades, 1)
	trade := st.trades[0]
	assert.Equal(t, "alice", trade.WalletAddress)
	assert.Equal(t, testMint.String(), trade.MintAddress)
	assert.Equal(t, store.ActionBuy, trade.Action)
	assert.Equal(t, store.TradeSuccess, trade.Status)
	assert.Equal(t, "sig-alice", trade.Signature)
	assert.Empty(t, trade.Error)

	assert.Equal(t, []string{"alice:" + testMint.String()}, st.sniped)
	assert.Equal(t, []string{"claim:chat-alice", "success:chat-alice"}, notifier.events)
	assert.Equal(t, 1, recorder.success)
}

func TestDispatcher_FailureIsRecordedNotRetried(t *testing.T) {
	st := &recordingStore{}
	notifier := &recordingNotifier{}
	recorder := &countingRecorder{}
	buyErr := errors.New("insufficient funds")
	d := NewDispatcher(&stubBuyer{err: buyErr}, st, notifier, recorder)

	d.Dispatch(context.Background(), []tracker.Action{dispatchAction("bob")})
	d.Wait()

	require.Len(t, st.trades, 1)
	assert.Equal(t, store.TradeFailed, st.trades[0].Status)
	assert.Equal(t, "insufficient funds", st.trades[0].Error)
	assert.Empty(t, st.trades[0].Signature)
	assert.Empty(t, st.sniped)
	assert.Equal(t, []string{"claim:chat-bob", "failed:chat-bob:insufficient funds"}, notifier.events)
	assert.Equal(t, 1, recorder.failures)
}

func TestDispatcher_RunsActionsConcurrently(t *testing.T) {
	st := &recordingStore{}
	d := NewDispatcher(&stubBuyer{}, st, &recordingNotifier{}, nil)

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	actions := make([]tracker.Action, 0, len(users))
	for _, u := range users {
		actions = append(actions, dispatchAction(u))
	}

	d.Dispatch(context.Background(), actions)
	d.Wait()

	require.Len(t, st.trades, len(users))
	var wallets []string
	for _, trade := range st.trades {
		wallets = append(wallets, trade.WalletAddress)
	}
	assert.ElementsMatch(t, users, wallets)
}

func TestDispatcher_EndToEndWithExecutor(t *testing.T) {
	st := &recordingStore{}
	executor := NewExecutor(&fakeSwaps{}, &fakeBroadcaster{}, true)
	d := NewDispatcher(executor, st, &recordingNotifier{}, nil)

	wallet, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	action := dispatchAction(wallet.PublicKey().String())
	action.PrivateKey = wallet.String()

	d.Dispatch(context.Background(), []tracker.Action{action})
	d.Wait()

	require.Len(t, st.trades, 1)
	assert.Equal(t, store.TradeSuccess, st.trades[0].Status)
	assert.Contains(t, st.trades[0].Signature, "SIMULATION_")
}
