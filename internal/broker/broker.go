// Package broker implements the in-memory pub/sub core: the topic registry,
// per-topic subscriber sets and history rings, bounded per-subscriber
// delivery queues and the fan-out path.
package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/pubsub/internal/config"
	"github.com/adred-codev/pubsub/internal/monitoring"
	"github.com/adred-codev/pubsub/internal/protocol"
)

// TopicInfo is one row of the list operation.
type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// TopicStats is per-topic statistics.
type TopicStats struct {
	Messages    int64 `json:"messages"`
	Subscribers int   `json:"subscribers"`
}

// Options configures a Broker.
type Options struct {
	QueueSize      int                   // per-subscriber queue capacity (Q)
	HistorySize    int                   // per-topic history ring capacity (H)
	OverflowPolicy config.OverflowPolicy // what to do when a queue is full
	DrainWindow    time.Duration         // pump drain window during shutdown
}

// Broker is the process-wide topic registry and coordinator.
//
// The registry mutex protects only the topic map and is never held across a
// topic-lock acquisition: lookups grab the *Topic reference under RLock and
// release before calling into the topic.
type Broker struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic

	startTime    time.Time
	shuttingDown atomic.Bool
}

// New creates an empty broker.
func New(opts Options, logger zerolog.Logger) *Broker {
	b := &Broker{
		opts:      opts,
		logger:    logger.With().Str("component", "broker").Logger(),
		topics:    make(map[string]*Topic),
		startTime: time.Now(),
	}
	b.logger.Info().
		Int("queue_size", opts.QueueSize).
		Int("history_size", opts.HistorySize).
		Str("overflow_policy", string(opts.OverflowPolicy)).
		Msg("Broker initialized")
	return b
}

// IsShuttingDown reports whether shutdown has begun. New subscribes and
// publishes are refused once it has.
func (b *Broker) IsShuttingDown() bool {
	return b.shuttingDown.Load()
}

// CreateTopic registers a new topic name. Names are opaque strings; the only
// failure is a duplicate.
func (b *Broker) CreateTopic(name string) error {
	if b.shuttingDown.Load() {
		return ErrShuttingDown
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.topics[name]; exists {
		return ErrTopicExists
	}
	b.topics[name] = NewTopic(name, b.opts.HistorySize, b.logger)
	monitoring.TopicsActive.Set(float64(len(b.topics)))
	b.logger.Info().
		Str("topic", name).
		Int("topic_count", len(b.topics)).
		Msg("Topic created")
	return nil
}

// DeleteTopic removes a topic, then notifies each of its subscribers with a
// single topic_deleted info frame (queue bypass) and deactivates them. A
// failed notification is logged and does not abort the deletion.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	topic, exists := b.topics[name]
	if !exists {
		b.mu.Unlock()
		return ErrTopicNotFound
	}
	delete(b.topics, name)
	remaining := len(b.topics)
	b.mu.Unlock()

	// The topic is already unreachable from the registry; notify and
	// deactivate outside the registry lock.
	for _, sub := range topic.Subscribers() {
		info := protocol.NewInfo(name, protocol.InfoTopicDeleted)
		if err := sub.Transport().SendFrame(info); err != nil {
			b.logger.Error().
				Err(err).
				Str("topic", name).
				Str("client_id", sub.ClientID()).
				Msg("Failed to notify subscriber of topic deletion")
		}
		sub.Deactivate()
	}

	monitoring.TopicsActive.Set(float64(remaining))
	monitoring.SubscribersActive.Set(float64(b.TotalSubscribers()))
	b.logger.Info().
		Str("topic", name).
		Int("topic_count", remaining).
		Msg("Topic deleted")
	return nil
}

// Subscribe attaches a new subscriber to a topic and returns the history
// snapshot for lastN. The snapshot and the insertion happen under one topic
// lock acquisition, so the returned history is a strict prefix of the live
// stream. A duplicate client_id within the topic is rejected.
func (b *Broker) Subscribe(topicName, clientID string, transport Transport, lastN int) ([]HistoryEntry, *Subscriber, error) {
	if b.shuttingDown.Load() {
		return nil, nil, ErrShuttingDown
	}

	topic, ok := b.lookup(topicName)
	if !ok {
		return nil, nil, ErrTopicNotFound
	}

	sub := NewSubscriber(clientID, topicName, transport, b.opts.QueueSize, b.opts.OverflowPolicy, b.logger)
	history, err := topic.SubscribeWithHistory(lastN, sub)
	if err != nil {
		return nil, nil, err
	}

	monitoring.SubscribersActive.Set(float64(b.TotalSubscribers()))
	return history, sub, nil
}

// Unsubscribe detaches clientID from the topic and deactivates its
// subscriber; the delivery pump observes the deactivation and exits.
func (b *Broker) Unsubscribe(topicName, clientID string) error {
	topic, ok := b.lookup(topicName)
	if !ok {
		return ErrTopicNotFound
	}
	if !topic.RemoveSubscriber(clientID) {
		return ErrNotSubscribed
	}
	monitoring.SubscribersActive.Set(float64(b.TotalSubscribers()))
	return nil
}

// Publish fans a message out to the topic's subscribers and returns how many
// accepted it.
func (b *Broker) Publish(topicName string, msg protocol.Message) (int, error) {
	if b.shuttingDown.Load() {
		return 0, ErrShuttingDown
	}

	topic, ok := b.lookup(topicName)
	if !ok {
		return 0, ErrTopicNotFound
	}

	accepted := topic.Publish(msg)
	monitoring.MessagesPublished.Inc()
	return accepted, nil
}

// History returns up to the last n entries of a topic, oldest first.
func (b *Broker) History(topicName string, lastN int) ([]HistoryEntry, error) {
	topic, ok := b.lookup(topicName)
	if !ok {
		return nil, ErrTopicNotFound
	}
	return topic.History(lastN), nil
}

// List returns a snapshot of topic names with their subscriber counts.
func (b *Broker) List() []TopicInfo {
	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	out := make([]TopicInfo, 0, len(topics))
	for _, t := range topics {
		out = append(out, TopicInfo{Name: t.Name(), Subscribers: t.SubscriberCount()})
	}
	return out
}

// Stats returns per-topic message and subscriber counts.
func (b *Broker) Stats() map[string]TopicStats {
	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	out := make(map[string]TopicStats, len(topics))
	for _, t := range topics {
		out[t.Name()] = TopicStats{Messages: t.MessageCount(), Subscribers: t.SubscriberCount()}
	}
	return out
}

// TopicCount returns the current number of topics.
func (b *Broker) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// TotalSubscribers returns the subscriber count summed over all topics.
func (b *Broker) TotalSubscribers() int {
	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	total := 0
	for _, t := range topics {
		total += t.SubscriberCount()
	}
	return total
}

// Uptime returns the time since broker creation.
func (b *Broker) Uptime() time.Duration {
	return time.Since(b.startTime)
}

// Shutdown quiesces the broker: refuse new subscribes and publishes, send
// every subscriber one server_shutdown info frame through its transport,
// give pumps the drain window to empty their queues, then deactivate
// everything. Errors are logged and never block progress.
func (b *Broker) Shutdown() {
	b.shuttingDown.Store(true)
	b.logger.Info().Msg("Broker shutdown initiated")

	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	var subs []*Subscriber
	for _, t := range topics {
		subs = append(subs, t.Subscribers()...)
	}

	notified := 0
	for _, sub := range subs {
		info := protocol.NewInfo(sub.topic, protocol.InfoServerShutdown)
		if err := sub.Transport().SendFrame(info); err != nil {
			b.logger.Error().
				Err(err).
				Str("client_id", sub.ClientID()).
				Msg("Failed to notify subscriber of shutdown")
			continue
		}
		notified++
	}
	b.logger.Info().
		Int("notified", notified).
		Int("subscribers", len(subs)).
		Msg("Shutdown notifications sent")

	// Bounded drain window: stop early once every queue is empty.
	deadline := time.NewTimer(b.opts.DrainWindow)
	defer deadline.Stop()
	check := time.NewTicker(50 * time.Millisecond)
	defer check.Stop()

drain:
	for {
		select {
		case <-deadline.C:
			b.logger.Warn().
				Dur("drain_window", b.opts.DrainWindow).
				Msg("Drain window expired with frames still queued")
			break drain
		case <-check.C:
			pending := 0
			for _, sub := range subs {
				pending += sub.QueueLen()
			}
			if pending == 0 {
				b.logger.Info().Msg("All subscriber queues drained")
				break drain
			}
		}
	}

	for _, sub := range subs {
		sub.Deactivate()
	}

	b.logger.Info().
		Int("topics", len(topics)).
		Int("subscribers", len(subs)).
		Msg("Broker shutdown completed")
}

// lookup grabs the *Topic reference under the registry read lock. The lock
// is released before the caller touches the topic's own lock.
func (b *Broker) lookup(name string) (*Topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	return t, ok
}
