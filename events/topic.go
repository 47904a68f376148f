// Package events provides typed in-process topics used to pass notifications
// between components that do not hold references to each other.
package events

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Topic is a named publish/subscribe channel carrying values of type T.
// Handlers run synchronously on the publisher's goroutine, in the order they
// subscribed.
type Topic[T any] struct {
	name string

	mu       sync.RWMutex
	handlers map[uint64]func(T)
	nextID   uint64
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name:     name,
		handlers: make(map[uint64]func(T)),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is a no-op.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.handlers, id)
			t.mu.Unlock()
		})
	}
}

// Publish delivers v to every current subscriber and returns how many
// handlers were called.
func (t *Topic[T]) Publish(v T) int {
	handlers := t.snapshot()
	if len(handlers) == 0 {
		log.Debug().Str("topic", t.name).Msg("Event published without subscribers")
		return 0
	}

	for _, fn := range handlers {
		fn(v)
	}
	return len(handlers)
}

// Subscribers returns the number of registered handlers.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// snapshot copies the handlers in subscription order so that handlers may
// subscribe or unsubscribe while being called.
func (t *Topic[T]) snapshot() []func(T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint64, 0, len(t.handlers))
	for id := range t.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, t.handlers[id])
	}
	return out
}
