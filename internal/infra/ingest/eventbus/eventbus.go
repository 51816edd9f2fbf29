// Package eventbus implements the in-process typed pub/sub that fans out
// document lifecycle transitions to SSE subscribers (spec.md §4.2).
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// DefaultBufferSize is the per-subscriber channel capacity B (spec.md §4.2).
const DefaultBufferSize = 256

type subscriber struct {
	ch      chan ingest.Event
	closed  bool
	dropped uint64
}

// Bus is a single-process broadcaster. Publish never blocks on a slow
// subscriber: delivery is a non-blocking send that drops the subscriber's
// oldest buffered event on overflow, grounded on the subscriber-map-plus-
// mutex shape of the reference EventEmitter pattern in the example pack,
// adapted from a DB sink to direct channel fan-out.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]*subscriber
	bufferSize  int
	logger      *slog.Logger
}

// New constructs an EventBus with the given per-subscriber buffer size.
// A size of 0 uses DefaultBufferSize.
func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[uuid.UUID]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "ingest.eventbus"),
	}
}

// Publish delivers evt to every current subscriber without blocking.
// Never fails, and never holds its lock while sending.
func (b *Bus) Publish(evt ingest.Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, evt)
	}
}

// deliver performs a non-blocking send, dropping the oldest buffered event
// and retrying once on overflow. A channel close mid-delivery is recovered
// from by treating it as a skip, matching the unsubscribe contract below.
func (b *Bus) deliver(sub *subscriber, evt ingest.Event) {
	defer func() {
		_ = recover() // closed channel from a racing unsubscribe; skip
	}()

	select {
	case sub.ch <- evt:
		return
	default:
	}

	// Buffer full: drop the oldest pending event, then try again.
	select {
	case <-sub.ch:
		sub.dropped++
	default:
	}
	select {
	case sub.ch <- evt:
	default:
		// Another producer raced us and refilled the buffer; count the drop
		// and move on rather than spin or block.
		sub.dropped++
	}
}

// Subscribe registers a new subscriber with a dedicated bounded buffer and
// returns its handle id, receive channel, and an idempotent unsubscribe func.
func (b *Bus) Subscribe() (uuid.UUID, <-chan ingest.Event, func()) {
	id := uuid.New()
	sub := &subscriber{ch: make(chan ingest.Event, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			sub.closed = true
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return id, sub.ch, unsubscribe
}

// SubscriberCount reports the current number of live subscribers, useful for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
