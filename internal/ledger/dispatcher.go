package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives events of the kind it subscribed to.
type Handler func(Event)

// Subscription is a registered handler.
type Subscription struct {
	ID   string
	Kind EventKind

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// Dispatcher fans events out to subscribers. Dispatch is expected to be
// called from one goroutine, which gives every handler the events in the
// order they were dispatched.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[EventKind]map[string]*Subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[EventKind]map[string]*Subscription)}
}

// Subscribe registers h for kind.
func (d *Dispatcher) Subscribe(kind EventKind, h Handler) *Subscription {
	sub := &Subscription{ID: uuid.NewString(), Kind: kind, handler: h}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs[kind] == nil {
		d.subs[kind] = make(map[string]*Subscription)
	}
	d.subs[kind][sub.ID] = sub
	return sub
}

// Unsubscribe removes sub. Once it returns the handler is not running and
// will not run again. It must not be called from inside the handler itself.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	delete(d.subs[sub.Kind], sub.ID)
	d.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
}

// Dispatch delivers ev to every subscriber of its kind. Events of an
// unknown kind go to EventOther subscribers.
func (d *Dispatcher) Dispatch(ev Event) {
	kind := ev.Kind
	if !kind.Known() {
		kind = EventOther
	}

	d.mu.RLock()
	targets := make([]*Subscription, 0, len(d.subs[kind]))
	for _, sub := range d.subs[kind] {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		sub.mu.Lock()
		if !sub.closed {
			sub.handler(ev)
		}
		sub.mu.Unlock()
	}
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.subs {
		n += len(m)
	}
	return n
}
