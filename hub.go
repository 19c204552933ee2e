package dronesdk

import "sync"

// hub fans samples of one channel out to any number of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the
// sample.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: map[uint64]chan T{}}
}

func (h *hub[T]) subscribe(buffer int) (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := make(chan T, max(buffer, 0))
	if h.closed {
		close(c)
		return c, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = c

	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.subs {
		select {
		case c <- v:
		default:
		}
	}
}

func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.subs {
		close(c)
		delete(h.subs, id)
	}
}
