package events

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"orchestra/internal/constants"
	"orchestra/internal/logger"
)

type subscriber struct {
	id    int64
	names map[string]bool
	ch    chan Event
}

// Bus fans events out to channel subscribers. Publishing is serialized so every
// subscriber sees events in sequence order. A subscriber whose buffer is full
// misses the event rather than blocking the publisher.
type Bus struct {
	mu          sync.Mutex
	closed      bool
	seq         uint64
	nextID      int64
	bufferSize  int
	subscribers map[int64]subscriber
	now         func() time.Time
}

// NewBus creates a bus whose subscriber channels hold bufferSize events
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultEventBuffer
	}
	return &Bus{
		bufferSize:  bufferSize,
		subscribers: make(map[int64]subscriber),
		now:         time.Now,
	}
}

// Subscribe returns a channel of events named in names, or of all events when names is empty.
// The returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(names ...string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	sub := subscriber{id: b.nextID, ch: ch}
	if len(names) > 0 {
		sub.names = make(map[string]bool, len(names))
		for _, n := range names {
			sub.names[n] = true
		}
	}
	b.subscribers[sub.id] = sub

	return ch, func() { b.unsubscribe(sub.id) }
}

// Publish stamps and delivers an event, returning it with ID, Sequence and Timestamp set.
func (b *Bus) Publish(name, entityID, zoneID string, payload map[string]interface{}) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	event := Event{
		ID:        xid.New().String(),
		Sequence:  b.seq,
		Name:      name,
		EntityID:  entityID,
		ZoneID:    zoneID,
		Timestamp: b.now().UTC(),
		Payload:   payload,
	}
	if b.closed {
		return event
	}

	for _, sub := range b.subscribers {
		if sub.names != nil && !sub.names[name] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.WithFields(logger.Fields{
				"event":      name,
				"sequence":   event.Sequence,
				"subscriber": sub.id,
			}).Warn("Event subscriber buffer full, dropping event")
		}
	}
	return event
}

// Sequence returns the sequence number of the last published event
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later publishes are stamped but not delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}
