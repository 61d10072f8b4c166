// Package monitor consumes the Yellowstone gRPC transaction stream for the
// Bags fee-share programs and hands every update to the engine.
//
// The monitor cycles Connecting -> Streaming -> Backoff -> Connecting until
// its context is cancelled. Any stream error, including a clean EOF from the
// server, leads to a reconnect after an exponential delay.
package monitor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bags-claim-sniper/internal/config"
	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/parser"
	"bags-claim-sniper/internal/utils"

	"github.com/cenkalti/backoff/v4"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const subscriptionName = "bags_fee_claims"

// UpdateHandler processes one stream update. It runs in its own goroutine.
type UpdateHandler func(ctx context.Context, update *pb.SubscribeUpdate)

// ConnectionListener is told when the stream connects (err == nil) or drops.
type ConnectionListener func(ctx context.Context, connected bool, err error)

// Subscriber opens a Geyser subscription stream. pb.GeyserClient satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, opts ...grpc.CallOption) (pb.Geyser_SubscribeClient, error)
}

type dialFunc func(ctx context.Context) (Subscriber, io.Closer, error)

// ClaimMonitor manages the gRPC subscription for fee claim transactions.
type ClaimMonitor struct {
	endpoint string
	programs parser.Programs
	handler  UpdateHandler
	listener ConnectionListener
	metrics  *Metrics
	backoff  *backoff.ExponentialBackOff
	dial     dialFunc
	wait     func(time.Duration) <-chan time.Time
	handlers sync.WaitGroup
}

// NewClaimMonitor creates a monitor for the configured gRPC endpoint.
func NewClaimMonitor(cfg *config.Config, programs parser.Programs, handler UpdateHandler, metrics *Metrics) *ClaimMonitor {
	m := &ClaimMonitor{
		endpoint: cfg.GRPCEndpoint,
		programs: programs,
		handler:  handler,
		metrics:  metrics,
		backoff:  NewBackOff(cfg.BackoffBase, cfg.BackoffMax),
		wait:     time.After,
	}
	m.dial = func(ctx context.Context) (Subscriber, io.Closer, error) {
		return dialGeyser(cfg.GRPCEndpoint, cfg.GRPCToken)
	}
	return m
}

// OnConnectionChange registers a listener for connect and disconnect events.
func (m *ClaimMonitor) OnConnectionChange(listener ConnectionListener) {
	m.listener = listener
}

// NewBackOff returns the reconnect policy: start at base, double on every
// failure, never exceed max, no jitter, never give up.
func NewBackOff(base, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// SubscribeRequest builds the transaction filter for both program versions.
func SubscribeRequest(programs parser.Programs) *pb.SubscribeRequest {
	return &pb.SubscribeRequest{
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			subscriptionName: {
				Vote:           proto.Bool(false),
				Failed:         proto.Bool(false),
				AccountInclude: programs.Strings(),
			},
		},
		Commitment: pb.CommitmentLevel_CONFIRMED.Enum(),
	}
}

// Run streams until ctx is cancelled. It only returns nil.
func (m *ClaimMonitor) Run(ctx context.Context) error {
	defer m.handlers.Wait()

	for {
		established, err := m.stream(ctx)
		if ctx.Err() != nil {
			logrus.Info("🛑 Context cancelled, stopping claim monitor")
			return nil
		}

		delay := m.backoff.NextBackOff()
		m.metrics.RecordReconnect()
		// Failed dials and rejected subscriptions were never reported as up.
		if established {
			m.notify(ctx, false, err)
		}

		logrus.WithFields(logrus.Fields{
			"error": utils.SanitizeError(err, m.endpoint),
			"retry": delay.String(),
		}).Warn("⚠️ Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			logrus.Info("🛑 Context cancelled, stopping claim monitor")
			return nil
		case <-m.wait(delay):
		}
	}
}

// stream runs one Connecting -> Streaming cycle and returns why it ended.
// established reports whether the server accepted the subscription.
func (m *ClaimMonitor) stream(ctx context.Context) (established bool, err error) {
	logrus.WithField("endpoint", utils.SanitizeURL(m.endpoint)).Info("🔌 Connecting to Yellowstone gRPC...")

	client, conn, err := m.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Subscribe(streamCtx)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	req := SubscribeRequest(m.programs)
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithField("request", protojson.Format(req)).Debug("📡 Subscription request")
	}
	if err := stream.Send(req); err != nil {
		return false, fmt.Errorf("send subscription: %w", err)
	}
	// A rejected subscription (bad token, unknown filter) surfaces as the
	// header error, before any update is received.
	if _, err := stream.Header(); err != nil {
		return false, fmt.Errorf("subscription rejected: %w", err)
	}

	m.backoff.Reset()
	logger.LogConnection("Yellowstone gRPC", "connected")
	logrus.WithField("programs", strings.Join(m.programs.Strings(), ",")).Info("📡 Streaming fee claim transactions")
	m.notify(ctx, true, nil)

	for {
		update, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return true, errors.New("stream closed by server")
		}
		if err != nil {
			return true, fmt.Errorf("recv: %w", err)
		}

		if update.GetPing() != nil {
			if err := stream.Send(&pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: 1}}); err != nil {
				return true, fmt.Errorf("ping reply: %w", err)
			}
			continue
		}
		if update.GetPong() != nil {
			continue
		}

		m.metrics.RecordUpdate()
		m.handlers.Add(1)
		go func(update *pb.SubscribeUpdate) {
			defer m.handlers.Done()
			m.handler(ctx, update)
		}(update)
	}
}

func (m *ClaimMonitor) notify(ctx context.Context, connected bool, err error) {
	if m.listener == nil {
		return
	}
	go m.listener(ctx, connected, err)
}

// tokenAuth attaches the provider's x-token to every call.
type tokenAuth struct {
	token  string
	secure bool
}

func (t tokenAuth) GetRequestMetadata(ctx context.Context, in ...string) (map[string]string, error) {
	return map[string]string{"x-token": t.token}, nil
}

func (t tokenAuth) RequireTransportSecurity() bool {
	return t.secure
}

// dialTarget converts an endpoint URL into a gRPC target and reports whether
// TLS should be used.
func dialTarget(endpoint string) (string, bool) {
	secure := strings.HasPrefix(endpoint, "https://") || strings.Contains(endpoint, ":443")

	target := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	target = strings.TrimSuffix(target, "/")
	if i := strings.Index(target, "/"); i >= 0 {
		target = target[:i]
	}
	if !strings.Contains(target, ":") {
		if secure {
			target += ":443"
		} else {
			target += ":80"
		}
	}
	return target, secure
}

func dialGeyser(endpoint, token string) (Subscriber, io.Closer, error) {
	target, secure := dialTarget(endpoint)

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1024*1024*1024),
			grpc.MaxCallSendMsgSize(1024*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if secure {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(tokenAuth{token: token, secure: secure}))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return pb.NewGeyserClient(conn), conn, nil
}
