package server

import (
	"context"
	"errors"

	"github.com/adred-codev/pubsub/internal/broker"
	"github.com/adred-codev/pubsub/internal/monitoring"
	"github.com/adred-codev/pubsub/internal/protocol"
)

// runPump is the per-subscription delivery goroutine: it moves frames from
// the subscriber's queue to the session until the subscriber is deactivated,
// the context is cancelled, or the transport fails.
func (s *Session) runPump(ctx context.Context, sub *broker.Subscriber) {
	defer s.server.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "deliveryPump", map[string]any{
		"session_id": s.id,
		"client_id":  sub.ClientID(),
	})

	logger := s.logger.With().Str("client_id", sub.ClientID()).Logger()

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrSubscriberInactive) {
				logger.Debug().Msg("Delivery pump exiting, subscriber deactivated")
			} else {
				logger.Debug().Err(err).Msg("Delivery pump exiting")
			}
			return
		}

		if err := s.SendFrame(protocol.NewEvent(frame.Topic, frame.Message, frame.TS)); err != nil {
			logger.Debug().Err(err).Msg("Delivery pump exiting, transport closed")
			return
		}
		monitoring.EventsDelivered.Inc()
	}
}
