// Package sniper ties claim detection to trade dispatch: every stream update
// is classified, matched against all watchlists and turned into buys.
package sniper

import (
	"context"

	"bags-claim-sniper/internal/logger"
	"bags-claim-sniper/internal/parser"
	"bags-claim-sniper/internal/tracker"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/sirupsen/logrus"
)

// Dispatcher starts buys for matched actions without blocking.
type Dispatcher interface {
	Dispatch(ctx context.Context, actions []tracker.Action)
}

// Recorder receives detection counters.
type Recorder interface {
	RecordClaim(kind parser.ClaimKind)
	RecordDispatch(n int)
}

// Sniper is the per-update pipeline: classify, match, dispatch.
type Sniper struct {
	parser     *parser.ClaimParser
	registry   *tracker.Registry
	vaults     tracker.VaultResolver
	guard      *tracker.SnipeGuard
	dispatcher Dispatcher
	recorder   Recorder
}

func New(claims *parser.ClaimParser, registry *tracker.Registry, vaults tracker.VaultResolver, guard *tracker.SnipeGuard, dispatcher Dispatcher, recorder Recorder) *Sniper {
	return &Sniper{
		parser:     claims,
		registry:   registry,
		vaults:     vaults,
		guard:      guard,
		dispatcher: dispatcher,
		recorder:   recorder,
	}
}

// ProcessUpdate handles one stream update. It is safe to call from many
// goroutines at once.
func (s *Sniper) ProcessUpdate(ctx context.Context, update *pb.SubscribeUpdate) {
	for _, event := range s.parser.ParseUpdate(update) {
		if s.recorder != nil {
			s.recorder.RecordClaim(event.Kind)
		}

		actions := s.registry.Match(event.InvolvedAccounts, s.vaults, s.guard)
		if len(actions) == 0 {
			logrus.WithField("signature", logger.ShortKey(event.Signature, 8)).Debug("No watchlist matched claim")
			continue
		}

		if s.recorder != nil {
			s.recorder.RecordDispatch(len(actions))
		}
		s.dispatcher.Dispatch(ctx, actions)
	}
}
