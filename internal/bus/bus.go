// Package bus provides the event bus that decouples the channel multiplexer
// from the state trackers. Handlers run synchronously on the publisher's
// goroutine, so publishes for one event name are delivered FIFO.
package bus

import (
	"log"
	"sync"
)

// Handler receives the payload published for an event name. Payloads are the
// typed structs produced at ingestion by the wire package.
type Handler func(payload any)

type subscription struct {
	handler Handler
	active  bool
}

// Bus is an in-memory publish/subscribe registry keyed by event name.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	logger *log.Logger
}

// New creates a Bus. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for an event name and returns an unsubscribe
// function. Handlers for the same event are invoked in subscription order.
// The returned function is idempotent.
func (b *Bus) Subscribe(event string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{handler: handler, active: true}
	b.subs[event] = append(b.subs[event], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		subs := b.subs[event]
		for i, s := range subs {
			if s == sub {
				b.subs[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[event]) == 0 {
			delete(b.subs, event)
		}
	}
}

// Publish synchronously invokes every handler registered for the event. A
// panicking handler is logged and must not prevent later handlers from
// running.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(event, sub, payload)
	}
}

func (b *Bus) invoke(event string, sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("bus: handler for %s panicked: %v", event, r)
		}
	}()

	b.mu.Lock()
	active := sub.active
	b.mu.Unlock()
	if !active {
		return
	}
	sub.handler(payload)
}
