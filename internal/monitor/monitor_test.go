package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"bags-claim-sniper/internal/config"
	"bags-claim-sniper/internal/parser"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	grpc.ClientStream
	ctx       context.Context
	updates   chan *pb.SubscribeUpdate
	headerErr error

	mu   sync.Mutex
	sent []*pb.SubscribeRequest
}

func newFakeStream(updates ...*pb.SubscribeUpdate) *fakeStream {
	ch := make(chan *pb.SubscribeUpdate, len(updates))
	for _, u := range updates {
		ch <- u
	}
	close(ch)
	return &fakeStream{updates: ch}
}

// idleStream never produces anything and only ends with its context.
func idleStream() *fakeStream {
	return &fakeStream{updates: make(chan *pb.SubscribeUpdate)}
}

// rejectedStream fails at the header like a server refusing the subscription.
func rejectedStream() *fakeStream {
	s := newFakeStream()
	s.headerErr = status.Error(codes.Unauthenticated, "invalid x-token")
	return s
}

func (s *fakeStream) Header() (metadata.MD, error) {
	if s.headerErr != nil {
		return nil, s.headerErr
	}
	return metadata.MD{}, nil
}

func (s *fakeStream) Send(req *pb.SubscribeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeStream) Recv() (*pb.SubscribeUpdate, error) {
	select {
	case u, ok := <-s.updates:
		if !ok {
			return nil, io.EOF
		}
		return u, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeStream) CloseSend() error { return nil }

func (s *fakeStream) requests() []*pb.SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pb.SubscribeRequest(nil), s.sent...)
}

// fakeSubscriber hands out scripted streams in order. Once they are used
// up every further subscription is idle.
type fakeSubscriber struct {
	mu       sync.Mutex
	streams  []*fakeStream
	dialErrs []error
	attempts int
}

func (f *fakeSubscriber) dial(context.Context) (Subscriber, io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	return f, io.NopCloser(nil), nil
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, _ ...grpc.CallOption) (pb.Geyser_SubscribeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *fakeStream
	if len(f.streams) > 0 {
		s = f.streams[0]
		f.streams = f.streams[1:]
	} else {
		s = idleStream()
	}
	s.ctx = ctx
	return s, nil
}

func (f *fakeSubscriber) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testMonitor(t *testing.T, sub *fakeSubscriber, handler UpdateHandler) (*ClaimMonitor, *Metrics) {
	t.Helper()
	cfg := &config.Config{
		GRPCEndpoint: "http://localhost:10000",
		BackoffBase:  time.Millisecond,
		BackoffMax:   4 * time.Millisecond,
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewClaimMonitor(cfg, parser.DefaultPrograms(), handler, metrics)
	m.dial = sub.dial
	return m, metrics
}

func txUpdate(slot uint64) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Transaction{
			Transaction: &pb.SubscribeUpdateTransaction{Slot: slot},
		},
	}
}

func pingUpdate() *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Ping{Ping: &pb.SubscribeUpdatePing{}},
	}
}

func TestNewBackOff_DoublesAndCaps(t *testing.T) {
	b := NewBackOff(5*time.Second, 60*time.Second)

	var delays []time.Duration
	for i := 0; i < 7; i++ {
		delays = append(delays, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}, delays)

	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())
}

func TestSubscribeRequest(t *testing.T) {
	programs := parser.DefaultPrograms()
	req := SubscribeRequest(programs)

	require.Len(t, req.Transactions, 1)
	filter := req.Transactions[subscriptionName]
	require.NotNil(t, filter)
	assert.Equal(t, []string{programs.V2.String(), programs.V1.String()}, filter.AccountInclude)
	assert.False(t, filter.GetVote())
	assert.False(t, filter.GetFailed())
	assert.Equal(t, pb.CommitmentLevel_CONFIRMED, req.GetCommitment())
}

func TestDialTarget(t *testing.T) {
	tests := []struct {
		endpoint string
		target   string
		secure   bool
	}{
		{"https://grpc.example.com", "grpc.example.com:443", true},
		{"https://grpc.example.com/", "grpc.example.com:443", true},
		{"grpc.example.com:443", "grpc.example.com:443", true},
		{"http://127.0.0.1:10000", "127.0.0.1:10000", false},
		{"localhost:10000", "localhost:10000", false},
		{"http://node.local", "node.local:80", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			target, secure := dialTarget(tt.endpoint)
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestClaimMonitor_StreamsReconnectsAndStops(t *testing.T) {
	first := newFakeStream(pingUpdate(), txUpdate(7), txUpdate(8))
	sub := &fakeSubscriber{
		streams:  []*fakeStream{first},
		dialErrs: []error{nil, errors.New("connection refused")},
	}

	var mu sync.Mutex
	var slots []uint64
	m, metrics := testMonitor(t, sub, func(_ context.Context, u *pb.SubscribeUpdate) {
		mu.Lock()
		defer mu.Unlock()
		slots = append(slots, u.GetTransaction().GetSlot())
	})

	events := make(chan bool, 16)
	m.OnConnectionChange(func(_ context.Context, connected bool, _ error) {
		events <- connected
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// EOF on the first stream, a failed dial, then an idle third stream.
	require.Eventually(t, func() bool { return sub.attemptCount() >= 3 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	mu.Lock()
	assert.ElementsMatch(t, []uint64{7, 8}, slots)
	mu.Unlock()

	sent := first.requests()
	require.Len(t, sent, 2)
	assert.NotNil(t, sent[0].Transactions[subscriptionName])
	assert.NotNil(t, sent[1].GetPing())

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.updates))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.reconnects))

	var got []bool
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				got = append(got, e)
			default:
				return len(got) >= 3
			}
		}
	}, time.Second, time.Millisecond)
	// The failed dial is never reported: only established streams go down.
	assert.ElementsMatch(t, []bool{true, false, true}, got)
}

func TestClaimMonitor_BackoffResetsOnlyAfterAcceptedSubscription(t *testing.T) {
	sub := &fakeSubscriber{
		streams: []*fakeStream{rejectedStream(), rejectedStream(), newFakeStream(txUpdate(1)), rejectedStream()},
	}
	m, _ := testMonitor(t, sub, func(context.Context, *pb.SubscribeUpdate) {})
	m.backoff = NewBackOff(5*time.Second, 60*time.Second)

	var mu sync.Mutex
	var delays []time.Duration
	m.wait = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	events := make(chan bool, 16)
	m.OnConnectionChange(func(_ context.Context, connected bool, _ error) {
		events <- connected
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Two rejections, one accepted stream that ends, one more rejection,
	// then an idle stream.
	require.Eventually(t, func() bool { return sub.attemptCount() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		5 * time.Second,
		10 * time.Second,
	}, delays)
	mu.Unlock()

	var got []bool
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				got = append(got, e)
			default:
				return len(got) >= 3
			}
		}
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []bool{true, false, true}, got)
}

func TestClaimMonitor_StopsDuringBackoff(t *testing.T) {
	sub := &fakeSubscriber{dialErrs: []error{errors.New("down")}}
	m, _ := testMonitor(t, sub, func(context.Context, *pb.SubscribeUpdate) {})
	m.backoff = NewBackOff(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return sub.attemptCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop during backoff")
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordClaim(parser.ClaimUser)
	m.RecordClaim(parser.ClaimDbc)
	m.RecordDispatch(3)
	m.RecordTrade(true, 100*time.Millisecond)
	m.RecordTrade(false, 300*time.Millisecond)
	m.SetActiveUsers(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.claims.WithLabelValues("CLAIM_USER")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.dispatched))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.trades.WithLabelValues("failed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.users))
	assert.Equal(t, 50.0, m.GetSuccessRate())
	assert.Equal(t, 200.0, m.GetAverageLatency())
}
