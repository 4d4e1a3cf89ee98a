package stream

import "sync"

// Hub fans a value out to every subscribed handler.
//
// Publish delivers synchronously, in subscription order, on the caller's
// goroutine. Two publishes from the same goroutine are therefore seen by every
// handler in the order they were made.
type Hub[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// NewHub creates an empty hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers = append(h.handlers, entry[T]{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.handlers {
			if e.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every handler with v
func (h *Hub[T]) Publish(v T) {
	for _, fn := range h.snapshot() {
		fn(v)
	}
}

// Len returns the number of subscribers
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

func (h *Hub[T]) snapshot() []func(T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fns := make([]func(T), len(h.handlers))
	for i, e := range h.handlers {
		fns[i] = e.fn
	}
	return fns
}
