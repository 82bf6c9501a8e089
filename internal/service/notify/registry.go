// Package notify provides explicit observer registries and an event-bus
// publisher, replacing ambient global listeners.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds observers for values of type T.
// It is safe for concurrent use.
type Registry[T any] struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]func(T)
	order     []int
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		observers: make(map[int]func(T)),
	}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.observers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Notify calls every observer in subscription order.
// Observers run outside the lock and may unsubscribe themselves.
func (r *Registry[T]) Notify(v T) {
	r.mu.RLock()
	handlers := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		handlers = append(handlers, r.observers[id])
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(v)
	}
}

// Len returns the number of registered observers
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.observers)
}

// Publisher is the subset of *nats.Conn used to fan events out
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusPublisher serializes values to JSON and publishes them on the event bus
type BusPublisher struct {
	bus    Publisher
	logger zerolog.Logger
}

// NewBusPublisher creates a publisher; a nil bus drops every message
func NewBusPublisher(bus Publisher, logger zerolog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:    bus,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Publish marshals v and publishes it on subject
func (p *BusPublisher) Publish(subject string, v any) error {
	if p == nil || p.bus == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s payload: %w", subject, err)
	}

	if err := p.bus.Publish(subject, data); err != nil {
		return fmt.Errorf("error publishing to %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("published")
	return nil
}
