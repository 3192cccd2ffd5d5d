package broker

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/pubsub/internal/protocol"
)

// HistoryEntry is one retained publish: the message plus its published-at
// timestamp.
type HistoryEntry struct {
	Message protocol.Message
	TS      string
}

// historyRing is a fixed-capacity ring over HistoryEntry. Appending to a
// full ring overwrites the oldest entry in the same step.
type historyRing struct {
	entries []HistoryEntry
	head    int // index of the oldest entry
	size    int
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{entries: make([]HistoryEntry, capacity)}
}

func (r *historyRing) append(e HistoryEntry) {
	if r.size < len(r.entries) {
		r.entries[(r.head+r.size)%len(r.entries)] = e
		r.size++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
}

// last returns up to n entries, oldest first. n <= 0 yields nil.
func (r *historyRing) last(n int) []HistoryEntry {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]HistoryEntry, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%len(r.entries)]
	}
	return out
}

func (r *historyRing) len() int { return r.size }

// Topic is a named channel: a subscriber set keyed by client_id, a history
// ring for last_n replay and a monotonic publish counter.
//
// All mutation runs under the topic's own mutex. The broker registry lock is
// never held while this lock is taken, which keeps the lock order strictly
// registry -> topic -> subscriber queue.
type Topic struct {
	name   string
	logger zerolog.Logger

	mu           sync.Mutex
	subscribers  map[string]*Subscriber
	history      *historyRing
	messageCount int64
}

// NewTopic creates a topic with a history ring of the given capacity.
func NewTopic(name string, historySize int, logger zerolog.Logger) *Topic {
	return &Topic{
		name:        name,
		logger:      logger.With().Str("topic", name).Logger(),
		subscribers: make(map[string]*Subscriber),
		history:     newHistoryRing(historySize),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// AddSubscriber inserts sub keyed by its client_id. A duplicate client_id is
// rejected and the existing subscriber is left untouched.
func (t *Topic) AddSubscriber(sub *Subscriber) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addSubscriberLocked(sub)
}

func (t *Topic) addSubscriberLocked(sub *Subscriber) error {
	if _, exists := t.subscribers[sub.ClientID()]; exists {
		return ErrDuplicateSubscriber
	}
	t.subscribers[sub.ClientID()] = sub
	t.logger.Info().
		Str("client_id", sub.ClientID()).
		Int("subscriber_count", len(t.subscribers)).
		Msg("Subscriber added")
	return nil
}

// SubscribeWithHistory atomically snapshots the last n history entries and
// inserts sub, in that order, under one lock acquisition. The snapshot is a
// strict prefix of the live stream the subscriber will see: a concurrent
// publish lands either in the snapshot (before the insert) or in the queue
// (after), never both.
func (t *Topic) SubscribeWithHistory(lastN int, sub *Subscriber) ([]HistoryEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.history.last(lastN)
	if err := t.addSubscriberLocked(sub); err != nil {
		return nil, err
	}
	return history, nil
}

// RemoveSubscriber deactivates and removes the subscriber with the given
// client_id. Returns whether a removal occurred.
func (t *Topic) RemoveSubscriber(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subscribers[clientID]
	if !ok {
		return false
	}
	sub.Deactivate()
	delete(t.subscribers, clientID)
	t.logger.Info().
		Str("client_id", clientID).
		Int("subscriber_count", len(t.subscribers)).
		Msg("Subscriber removed")
	return true
}

// Publish assigns the published-at timestamp, appends to history, bumps the
// counter and fans out to every active subscriber. Returns the number of
// subscribers that accepted the frame (delivered or dropped-oldest).
//
// History append and fan-out happen under one lock acquisition, so
// publishes on a topic are serialized and every non-dropping subscriber
// observes the same order.
func (t *Topic) Publish(msg protocol.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := protocol.Timestamp()
	t.history.append(HistoryEntry{Message: msg, TS: ts})
	t.messageCount++

	accepted := 0
	frame := DeliveryFrame{Topic: t.name, Message: msg, TS: ts}
	for _, sub := range t.subscribers {
		if !sub.Active() {
			continue
		}
		switch sub.Enqueue(frame) {
		case Delivered, DroppedOldest:
			accepted++
		}
	}

	t.logger.Debug().
		Str("message_id", msg.ID).
		Int("accepted", accepted).
		Int("subscriber_count", len(t.subscribers)).
		Msg("Message published")
	return accepted
}

// History returns up to the last n entries, oldest first, as a consistent
// snapshot.
func (t *Topic) History(lastN int) []HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.last(lastN)
}

// Subscribers returns a snapshot of the current subscriber set.
func (t *Topic) Subscribers() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount returns the current number of subscribers.
func (t *Topic) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// MessageCount returns the total number of publishes on this topic.
func (t *Topic) MessageCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageCount
}

// HistoryLen returns the current history ring occupancy.
func (t *Topic) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.len()
}
