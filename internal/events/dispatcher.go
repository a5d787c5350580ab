// Package events fans inbound push-channel envelopes out to subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// Handler receives an envelope published under a subscribed name.
type Handler func(wire.Envelope)

// HandlerID identifies a registration so it can be removed with Off.
type HandlerID uint64

type entry struct {
	id HandlerID
	fn Handler
}

// Dispatcher is a typed publish/subscribe registry. Handlers for a name run
// in registration order. The per-name slices are copied on write so that a
// handler may subscribe or unsubscribe while an Emit is iterating.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   atomic.Uint64
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]entry)}
}

// On registers fn for name and returns its id.
func (d *Dispatcher) On(name string, fn Handler) HandlerID {
	if fn == nil {
		return 0
	}
	id := HandlerID(d.nextID.Add(1))
	d.mu.Lock()
	cur := d.handlers[name]
	next := make([]entry, len(cur), len(cur)+1)
	copy(next, cur)
	d.handlers[name] = append(next, entry{id: id, fn: fn})
	d.mu.Unlock()
	return id
}

// Off removes the handler registered under name with the given id. It
// reports whether a handler was removed.
func (d *Dispatcher) Off(name string, id HandlerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.handlers[name]
	for i, e := range cur {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, name)
		} else {
			d.handlers[name] = next
		}
		return true
	}
	return false
}

// Clear drops every registration.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]entry)
	d.mu.Unlock()
}

// Count returns the number of handlers registered for name.
func (d *Dispatcher) Count(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}

// Emit delivers env to the handlers registered for name. A panicking handler
// is logged and does not prevent delivery to the remaining handlers.
func (d *Dispatcher) Emit(name string, env wire.Envelope) {
	d.mu.RLock()
	snapshot := d.handlers[name]
	d.mu.RUnlock()
	for _, e := range snapshot {
		invoke(name, e, env)
	}
}

// Dispatch emits an inbound envelope under its own type and under
// wire.TypeAny.
func (d *Dispatcher) Dispatch(env wire.Envelope) {
	d.Emit(env.Type, env)
	if env.Type != wire.TypeAny {
		d.Emit(wire.TypeAny, env)
	}
}

func invoke(name string, e entry, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Str("event", name).Uint64("handler", uint64(e.id)).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	e.fn(env)
}
