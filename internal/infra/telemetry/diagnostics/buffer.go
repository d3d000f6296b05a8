package diagnostics

import "sync"

// RingBuffer keeps the most recent values in a fixed-capacity ring.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	size  int
	next  int
}

// NewRingBuffer constructs a ring buffer holding at most capacity values.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Add inserts a value, evicting the oldest once the ring is full.
func (b *RingBuffer[T]) Add(value T) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.items[b.next] = value
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
	b.mu.Unlock()
}

// Snapshot returns the retained values, oldest first.
func (b *RingBuffer[T]) Snapshot() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		return append(out, b.items[:b.size]...)
	}
	out = append(out, b.items[b.next:]...)
	return append(out, b.items[:b.next]...)
}
