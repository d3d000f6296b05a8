package diagnostics

import (
	"context"
	"sync"
	"time"
)

// DefaultEventCapacity is the default ring size for retained events.
const DefaultEventCapacity = 256

// Hub buffers diagnostics events and fans them out to subscribers. Core
// components publish through the Probe interface; presentation layers
// subscribe. Recording never blocks: slow subscribers miss events instead
// of stalling publishers.
type Hub struct {
	buffer *RingBuffer[Event]

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub constructs a hub retaining up to capacity recent events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &Hub{
		buffer: NewRingBuffer[Event](capacity),
		subs:   make(map[chan Event]struct{}),
	}
}

// Record stores the event and notifies subscribers.
func (h *Hub) Record(event Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.buffer.Add(event)

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.Unlock()
}

// Snapshot returns the retained events, oldest first.
func (h *Hub) Snapshot() []Event {
	if h == nil {
		return nil
	}
	return h.buffer.Snapshot()
}

// Subscribe returns a channel of future events. The channel closes when ctx
// is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

var _ Probe = (*Hub)(nil)
