package event

import (
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event.
type Handler func(Event)

// PanicHandler receives a recovered handler panic together with its stack.
type PanicHandler func(eventType string, recovered any, stack []byte)

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Handlers run on the publishing
// goroutine, so a pipeline context that publishes command output blocks until
// the console has written it.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // pattern -> subscriptions
	nextID        atomic.Uint64
	onPanic       PanicHandler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
	}
}

// SetPanicHandler replaces the default panic reporter, which writes to the
// standard logger.
func (b *Bus) SetPanicHandler(h PanicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = h
}

// Subscribe registers a handler. The pattern is either an exact event type
// ("stage.started"), a category wildcard ("stage.*") or "*" for every event.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[pattern] = append(b.subscriptions[pattern], subscription{
		id:      id,
		pattern: pattern,
		handler: handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[pattern] = append(subs[:i:i], subs[i+1:]...)
				if len(b.subscriptions[pattern]) == 0 {
					delete(b.subscriptions, pattern)
				}
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all matching handlers: exact subscribers
// first, then category wildcards, then global wildcards. Within each group
// handlers run in registration order. A panicking handler is recovered and
// reported; delivery continues with the remaining handlers.
//
// Publish on a nil Bus is a no-op.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	eventType := event.EventType()
	category := eventType
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		category = eventType[:i]
	}

	b.mu.RLock()
	var targets []subscription
	targets = append(targets, b.subscriptions[eventType]...)
	targets = append(targets, b.subscriptions[category+".*"]...)
	targets = append(targets, b.subscriptions["*"]...)
	onPanic := b.onPanic
	b.mu.RUnlock()

	for _, sub := range targets {
		b.safeCall(sub.handler, event, onPanic)
	}
}

func (b *Bus) safeCall(handler Handler, event Event, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if onPanic != nil {
				onPanic(event.EventType(), r, stack)
				return
			}
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s",
				event.EventType(), r, stack)
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
