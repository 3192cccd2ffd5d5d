package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/pubsub/internal/config"
	"github.com/adred-codev/pubsub/internal/protocol"
)

func ringEntry(n int) HistoryEntry {
	return HistoryEntry{
		Message: protocol.Message{
			ID:      uuid.NewString(),
			Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
		},
		TS: protocol.Timestamp(),
	}
}

func TestHistoryRingPartialFill(t *testing.T) {
	r := newHistoryRing(5)

	e1 := ringEntry(1)
	e2 := ringEntry(2)
	r.append(e1)
	r.append(e2)

	assert.Equal(t, 2, r.len())
	got := r.last(5)
	require.Len(t, got, 2)
	assert.Equal(t, e1.Message.ID, got[0].Message.ID)
	assert.Equal(t, e2.Message.ID, got[1].Message.ID)
}

func TestHistoryRingEviction(t *testing.T) {
	r := newHistoryRing(3)

	entries := make([]HistoryEntry, 5)
	for i := range entries {
		entries[i] = ringEntry(i)
		r.append(entries[i])
	}

	// Capacity 3, five appends: only the last three survive, oldest first.
	assert.Equal(t, 3, r.len())
	got := r.last(3)
	require.Len(t, got, 3)
	assert.Equal(t, entries[2].Message.ID, got[0].Message.ID)
	assert.Equal(t, entries[3].Message.ID, got[1].Message.ID)
	assert.Equal(t, entries[4].Message.ID, got[2].Message.ID)
}

func TestHistoryRingLastN(t *testing.T) {
	r := newHistoryRing(4)
	for i := 0; i < 4; i++ {
		r.append(ringEntry(i))
	}

	assert.Nil(t, r.last(0))
	assert.Nil(t, r.last(-1))
	assert.Len(t, r.last(2), 2)
	assert.Len(t, r.last(100), 4)
}

func TestTopicSubscribeWithHistoryPrefix(t *testing.T) {
	topic := NewTopic("orders", 10, zerolog.Nop())

	pre := protocol.Message{ID: uuid.NewString(), Payload: json.RawMessage(`{"when":"before"}`)}
	topic.Publish(pre)

	sub := NewSubscriber("c1", "orders", &fakeTransport{}, 10, config.OverflowDropOldest, zerolog.Nop())
	history, err := topic.SubscribeWithHistory(10, sub)
	require.NoError(t, err)

	post := protocol.Message{ID: uuid.NewString(), Payload: json.RawMessage(`{"when":"after"}`)}
	topic.Publish(post)

	// The snapshot holds only the pre-subscribe publish; the post-subscribe
	// one lands in the queue. No overlap, no gap.
	require.Len(t, history, 1)
	assert.Equal(t, pre.ID, history[0].Message.ID)

	frames := drain(t, sub, 1)
	assert.Equal(t, post.ID, frames[0].Message.ID)
	assert.Equal(t, 0, sub.QueueLen())
}

func TestTopicSubscribeWithHistoryDuplicate(t *testing.T) {
	topic := NewTopic("orders", 10, zerolog.Nop())

	s1 := NewSubscriber("c1", "orders", &fakeTransport{}, 10, config.OverflowDropOldest, zerolog.Nop())
	_, err := topic.SubscribeWithHistory(0, s1)
	require.NoError(t, err)

	s2 := NewSubscriber("c1", "orders", &fakeTransport{}, 10, config.OverflowDropOldest, zerolog.Nop())
	_, err = topic.SubscribeWithHistory(0, s2)
	assert.ErrorIs(t, err, ErrDuplicateSubscriber)
	assert.Equal(t, 1, topic.SubscriberCount())
}

func TestTopicPublishSkipsInactive(t *testing.T) {
	topic := NewTopic("orders", 10, zerolog.Nop())

	sub := NewSubscriber("c1", "orders", &fakeTransport{}, 10, config.OverflowDropOldest, zerolog.Nop())
	require.NoError(t, topic.AddSubscriber(sub))
	sub.Deactivate()

	accepted := topic.Publish(protocol.Message{ID: uuid.NewString(), Payload: json.RawMessage(`{}`)})
	assert.Equal(t, 0, accepted)
	assert.Equal(t, 0, sub.QueueLen())

	// History and the counter still advance; retention is independent of
	// who is listening.
	assert.Equal(t, 1, topic.HistoryLen())
	assert.Equal(t, int64(1), topic.MessageCount())
}

func TestTopicConcurrentSubscribeAndPublish(t *testing.T) {
	topic := NewTopic("orders", 100, zerolog.Nop())

	const publishes = 100

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < publishes; i++ {
			topic.Publish(protocol.Message{ID: uuid.NewString(), Payload: json.RawMessage(`{}`)})
		}
	}()

	var sub *Subscriber
	var history []HistoryEntry
	go func() {
		defer wg.Done()
		sub = NewSubscriber("c1", "orders", &fakeTransport{}, publishes, config.OverflowDropOldest, zerolog.Nop())
		var err error
		history, err = topic.SubscribeWithHistory(publishes, sub)
		assert.NoError(t, err)
	}()

	wg.Wait()

	// Replay plus live queue covers the suffix exactly once: whatever was
	// not in the snapshot arrived through the queue.
	assert.Equal(t, publishes, len(history)+sub.QueueLen())
}
