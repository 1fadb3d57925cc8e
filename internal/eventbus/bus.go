package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Event is anything that can be routed by its type.
type Event[K comparable] interface {
	EventType() K
}

type Handler[E any] func(ctx context.Context, event E) error

// Bus is a synchronous in-process pub/sub. Handlers run on the publisher's
// goroutine and their errors are joined.
type Bus[K comparable, E Event[K]] struct {
	mutex       sync.RWMutex
	subscribers map[K]map[uint64]Handler[E]
	wildcard    map[uint64]Handler[E]
	counter     uint64
}

func NewBus[K comparable, E Event[K]]() *Bus[K, E] {
	return &Bus[K, E]{
		subscribers: make(map[K]map[uint64]Handler[E]),
		wildcard:    make(map[uint64]Handler[E]),
	}
}

// Subscribe registers handler for one event type and returns the unsubscribe func.
func (b *Bus[K, E]) Subscribe(eventType K, handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[uint64]Handler[E])
	}
	b.subscribers[eventType][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[eventType]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, eventType)
			}
		}
		b.mutex.Unlock()
	}
}

// SubscribeAll registers handler for every event type.
func (b *Bus[K, E]) SubscribeAll(handler Handler[E]) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	b.wildcard[id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		delete(b.wildcard, id)
		b.mutex.Unlock()
	}
}

func (b *Bus[K, E]) Publish(ctx context.Context, event E) error {
	b.mutex.RLock()
	handlersMap := b.subscribers[event.EventType()]
	handlers := make([]Handler[E], 0, len(handlersMap)+len(b.wildcard))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	for _, handler := range b.wildcard {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
