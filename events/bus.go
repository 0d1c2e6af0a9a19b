package events

import (
	"context"
	"errors"
	"sync"
)

// Publisher hands events to a bus. Publish returns once the bus has accepted
// every event or with an error wrapping ErrPublish.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Handler consumes one delivered event.
type Handler func(ctx context.Context, event Event) error

// MemoryBus is an in-process bus. Published events are queued and handed to
// subscribers by Deliver, which keeps the asynchronous boundary explicit in
// tests and local runs.
type MemoryBus struct {
	mu          sync.Mutex
	queue       []Event
	published   []Event
	subscribers map[string][]Handler
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers h for events of detailType.
func (b *MemoryBus) Subscribe(detailType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[detailType] = append(b.subscribers[detailType], h)
}

// Publish queues events for delivery.
func (b *MemoryBus) Publish(ctx context.Context, events ...Event) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrPublish, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, events...)
	b.published = append(b.published, events...)
	return nil
}

// Deliver drains the queue, including events published by handlers while
// draining. Handler errors are collected; delivery continues past them.
func (b *MemoryBus) Deliver(ctx context.Context) error {
	var errs []error
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return errors.Join(errs...)
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		handlers := append([]Handler(nil), b.subscribers[ev.DetailType()]...)
		b.mu.Unlock()

		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (b *MemoryBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Published returns every event accepted so far, in publish order.
func (b *MemoryBus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.published...)
}
