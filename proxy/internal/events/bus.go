// Package events implements the small publish-subscribe surface the proxy
// exposes to embedders: On, Once, Off, Emit.
package events

import "sync"

type subscription struct {
	id   uint64
	once bool
	fn   func(any)
}

// Bus dispatches string-keyed events to any number of listeners. Handlers
// run synchronously on the emitting goroutine, in subscription order.
// All methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]*subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]*subscription),
	}
}

// On subscribes fn to event and returns a handle for Off.
func (b *Bus) On(event string, fn func(any)) uint64 {
	return b.subscribe(event, fn, false)
}

// Once subscribes fn to event for a single delivery.
func (b *Bus) Once(event string, fn func(any)) uint64 {
	return b.subscribe(event, fn, true)
}

func (b *Bus) subscribe(event string, fn func(any), once bool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[event] = append(b.handlers[event], &subscription{
		id:   b.nextID,
		once: once,
		fn:   fn,
	})
	return b.nextID
}

// Off removes the subscription identified by id from event. Unknown ids are
// ignored.
func (b *Bus) Off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to all current subscribers of event. Once-handlers
// are removed before their callback runs.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	subs := b.handlers[event]
	// Copy before releasing the lock so handlers may (un)subscribe freely.
	run := make([]*subscription, len(subs))
	copy(run, subs)
	remaining := subs[:0:0]
	for _, sub := range subs {
		if !sub.once {
			remaining = append(remaining, sub)
		}
	}
	b.handlers[event] = remaining
	b.mu.Unlock()

	for _, sub := range run {
		sub.fn(payload)
	}
}
