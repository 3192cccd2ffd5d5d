package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/adred-codev/pubsub/internal/config"
	"github.com/adred-codev/pubsub/internal/monitoring"
	"github.com/adred-codev/pubsub/internal/protocol"
)

// Transport is the broker's view of a subscriber's connection. Lifecycle
// notifications (topic_deleted, server_shutdown) and slow-consumer errors go
// straight through it, bypassing the delivery queue.
type Transport interface {
	// SendFrame serializes and emits one frame. It must be safe for
	// concurrent use.
	SendFrame(frame protocol.ServerFrame) error

	// Close tears the connection down. Must be idempotent.
	Close()
}

// DeliveryFrame is one queued delivery: the topic, the published message and
// the published-at timestamp assigned inside Topic.Publish.
type DeliveryFrame struct {
	Topic   string
	Message protocol.Message
	TS      string
}

// EnqueueResult reports what happened to a fan-out enqueue attempt.
type EnqueueResult int

const (
	// Delivered means the frame was queued with free capacity.
	Delivered EnqueueResult = iota

	// DroppedOldest means the queue was full; the oldest frame was evicted
	// and the new one queued.
	DroppedOldest

	// Rejected means the frame was not queued (inactive subscriber, or the
	// disconnect overflow policy fired).
	Rejected
)

// Subscriber is one consumer of one topic: a bounded FIFO delivery queue, an
// active flag and the transport handle for direct frames.
//
// The queue is a buffered channel with exactly one producer (Topic.Publish
// fan-out, serialized under the topic lock) and one consumer (the delivery
// pump). Single-producer is what makes the drop-oldest sequence below safe
// as a plain receive-then-send pair.
type Subscriber struct {
	clientID  string
	topic     string
	transport Transport
	policy    config.OverflowPolicy
	logger    zerolog.Logger

	queue  chan DeliveryFrame
	active atomic.Bool
	done   chan struct{}

	deactivateOnce sync.Once
}

// NewSubscriber creates a subscriber with a queue of the given capacity.
func NewSubscriber(clientID, topic string, transport Transport, queueSize int, policy config.OverflowPolicy, logger zerolog.Logger) *Subscriber {
	s := &Subscriber{
		clientID:  clientID,
		topic:     topic,
		transport: transport,
		policy:    policy,
		logger: logger.With().
			Str("client_id", clientID).
			Str("topic", topic).
			Logger(),
		queue: make(chan DeliveryFrame, queueSize),
		done:  make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// ClientID returns the subscriber's client identifier.
func (s *Subscriber) ClientID() string { return s.clientID }

// Active reports whether the subscriber still accepts deliveries.
func (s *Subscriber) Active() bool { return s.active.Load() }

// Transport returns the connection handle for direct frames.
func (s *Subscriber) Transport() Transport { return s.transport }

// QueueLen returns the number of frames waiting for the pump.
func (s *Subscriber) QueueLen() int { return len(s.queue) }

// Enqueue attempts a non-blocking insert of frame into the delivery queue.
//
// Inactive subscribers reject. On a full queue the overflow policy decides:
// drop_oldest evicts the head and inserts at the tail (one warning log per
// eviction), disconnect emits a SLOW_CONSUMER error frame, deactivates and
// closes the transport.
func (s *Subscriber) Enqueue(frame DeliveryFrame) EnqueueResult {
	if !s.active.Load() {
		return Rejected
	}

	select {
	case s.queue <- frame:
		return Delivered
	default:
	}

	if s.policy == config.OverflowDisconnect {
		s.logger.Warn().
			Str("reason", "queue_full").
			Msg("Disconnecting slow consumer")
		monitoring.SlowConsumersDisconnected.Inc()
		s.Deactivate()

		// Enqueue runs under the topic lock and the transport is the slow
		// side here: the farewell must not block publishes, so it goes out
		// best-effort off the publish path.
		errFrame := protocol.NewError(protocol.CodeSlowConsumer,
			"subscriber queue full, disconnecting", "")
		go func() {
			if err := s.transport.SendFrame(errFrame); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to send slow consumer error")
			}
			s.transport.Close()
		}()
		return Rejected
	}

	// Drop-oldest: evict the head, insert at the tail. Fan-out is the only
	// producer and runs under the topic lock, so nobody can refill the slot
	// between the receive and the send.
	select {
	case <-s.queue:
	default:
	}

	select {
	case s.queue <- frame:
		s.logger.Warn().
			Int("queue_capacity", cap(s.queue)).
			Msg("Subscriber queue full, dropped oldest message")
		monitoring.EventsDropped.Inc()
		return DroppedOldest
	default:
		// Lost the slot to a tear-down race; treat as rejected.
		return Rejected
	}
}

// Next blocks until a frame is available, the subscriber is deactivated, or
// ctx is cancelled. After deactivation, already-queued frames are drained
// before ErrSubscriberInactive is returned.
func (s *Subscriber) Next(ctx context.Context) (DeliveryFrame, error) {
	select {
	case frame := <-s.queue:
		return frame, nil
	case <-s.done:
		// Final drain: deliver whatever was queued before deactivation.
		select {
		case frame := <-s.queue:
			return frame, nil
		default:
			return DeliveryFrame{}, ErrSubscriberInactive
		}
	case <-ctx.Done():
		return DeliveryFrame{}, ctx.Err()
	}
}

// Deactivate marks the subscriber inactive and unblocks any Next waiter.
// Safe to call more than once.
func (s *Subscriber) Deactivate() {
	s.active.Store(false)
	s.deactivateOnce.Do(func() {
		close(s.done)
	})
}
