package telemetry

import "sync"

// CircularBuffer keeps the most recent items up to a fixed capacity.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	full  bool
}

// NewCircularBuffer creates a buffer holding up to capacity items
// (default 100).
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.next] = item
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return append([]T{}, b.items[:b.next]...)
	}
	out := make([]T, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	return append(out, b.items[:b.next]...)
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.items)
	}
	return b.next
}
