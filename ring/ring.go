// Package ring provides a fixed capacity FIFO buffer that evicts the oldest
// element once full.
package ring

import "sync"

// Buffer holds at most Cap() elements in arrival order. It is safe for a
// single writer and any number of concurrent readers.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

// New returns an empty buffer. A capacity below 1 is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Add appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Add(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Items returns a copy of the buffered elements, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last(b.size)
}

// Last returns a copy of the newest n elements, oldest first. It returns
// fewer than n elements when fewer are buffered.
func (b *Buffer[T]) Last(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last(n)
}

func (b *Buffer[T]) last(n int) []T {
	n = min(max(n, 0), b.size)
	out := make([]T, n)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(first+i)%len(b.items)]
	}
	return out
}
