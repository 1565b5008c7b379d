// Package eventbus provides an in-process publish/subscribe handle that is
// passed explicitly to the tracker and its collaborators.
package eventbus

import (
	"log/slog"
	"sync"
)

// Topics published or consumed by the path tracker.
const (
	TopicPathStarted     = "path.started"
	TopicSegmentsAdded   = "path.segments_added"
	TopicSegmentRequest  = "segment.request"
	TopicSegmentOpened   = "segment.opened"
	TopicSegmentsFlushed = "segments.flushed"
	TopicSegmentsTrimmed = "segments.trimmed"
	TopicSessionEnded    = "session.ended"
	TopicTransportError  = "transport.error"
)

// Handler receives a published payload.
type Handler func(payload any)

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans payloads out to the handlers subscribed to a topic. Delivery is
// synchronous on the publisher's goroutine; handlers must not block.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *slog.Logger
}

// New creates an empty bus. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			// Copy so snapshots taken by in-progress publishes stay valid.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[topic] = next
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers payload to every handler subscribed to topic. A handler
// that panics is logged and does not stop delivery to the others.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(topic, s, payload)
	}
}

func (b *Bus) deliver(topic string, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", topic, "panic", r)
		}
	}()
	s.fn(payload)
}

// SubscriberCount returns the number of handlers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
