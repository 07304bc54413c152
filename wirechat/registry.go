package wirechat

import (
	"fmt"
	"sync"
)

// Listener is a registration handle. Handles are compared by identity, so
// the same *Listener can be subscribed and unsubscribed for several kinds.
type Listener struct {
	fn func(Event)
}

// NewListener wraps fn in a handle.
func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

// Registry maps event kinds to ordered listener lists. It is the only way
// consumers observe inbound events.
//
// Subscribing the same handle twice for one kind makes it fire twice;
// Unsubscribe removes one registration at a time.
type Registry struct {
	mu        sync.RWMutex
	listeners map[EventKind][]*Listener
	onPanic   func(kind EventKind, err error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[EventKind][]*Listener)}
}

// SetPanicHandler sets the function told about listeners that panic.
func (r *Registry) SetPanicHandler(fn func(kind EventKind, err error)) {
	r.mu.Lock()
	r.onPanic = fn
	r.mu.Unlock()
}

// Subscribe appends l to the listeners of kind.
func (r *Registry) Subscribe(kind EventKind, l *Listener) {
	if l == nil || l.fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners[kind] = append(r.listeners[kind], l)
	r.mu.Unlock()
}

// Unsubscribe removes the first registration of l for kind.
func (r *Registry) Unsubscribe(kind EventKind, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[kind]
	for i, h := range list {
		if h != l {
			continue
		}
		next := make([]*Listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, kind)
		} else {
			r.listeners[kind] = next
		}
		return
	}
}

// Len returns the number of registrations for kind.
func (r *Registry) Len(kind EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[kind])
}

// Dispatch calls every listener registered for ev.Kind() in registration
// order. A panicking listener is reported and skipped.
func (r *Registry) Dispatch(ev Event) {
	if ev == nil {
		return
	}
	kind := ev.Kind()
	r.mu.RLock()
	list := r.listeners[kind]
	onPanic := r.onPanic
	r.mu.RUnlock()

	// list is never mutated in place, so it is safe to range unlocked.
	for _, l := range list {
		r.invoke(kind, l, ev, onPanic)
	}
}

func (r *Registry) invoke(kind EventKind, l *Listener, ev Event, onPanic func(EventKind, error)) {
	defer func() {
		if p := recover(); p != nil && onPanic != nil {
			onPanic(kind, fmt.Errorf("listener panic: %v", p))
		}
	}()
	l.fn(ev)
}

// On subscribes a typed callback for the kind of E and returns its handle.
func On[E Event](r *Registry, fn func(E)) *Listener {
	l := NewListener(func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
	r.Subscribe(KindOf[E](), l)
	return l
}

// KindOf returns the kind an event type is dispatched under.
func KindOf[E Event]() EventKind {
	var zero E
	return zero.Kind()
}
