package eventbus

import "go.eventcore.dev"

// Appender is the append operation the persistence subscriber needs. It
// takes no context, so an eventstore.Store is adapted to it with a closure
// over Store.Append (see AppenderFunc); it is an interface here so eventbus does not import
// eventstore (the spec treats F and E/G as peers coupled only through this
// narrow contract, not through a dependency from the bus onto the store
// package).
type Appender interface {
	Append(event eventcore.DomainEvent) error
}

// appenderFunc adapts a plain func to Appender.
type appenderFunc func(eventcore.DomainEvent) error

func (f appenderFunc) Append(event eventcore.DomainEvent) error { return f(event) }

// AppenderFunc adapts a plain append function to the Appender interface,
// for callers who would rather pass a closure than implement the
// interface on a named type.
func AppenderFunc(f func(eventcore.DomainEvent) error) Appender {
	return appenderFunc(f)
}

// PersistenceSubscriber is component G: a standing subscription whose
// predicate matches every DomainEvent and whose handler calls
// event_store.append. Open/Close give it the explicit lifecycle spec.md
// §4.G requires; Close unsubscribes, leaving the bus's handler table empty
// of this subscriber so the test fence in spec.md §8 (S6) can pass.
type PersistenceSubscriber struct {
	bus      *Bus
	appender Appender

	sub  Subscription
	open bool
}

// NewPersistenceSubscriber constructs one, unopened, bound to bus and
// appender. appender typically wraps an *eventstore.Store's Append.
func NewPersistenceSubscriber(bus *Bus, appender Appender) *PersistenceSubscriber {
	return &PersistenceSubscriber{bus: bus, appender: appender}
}

// Open subscribes the forwarding handler to bus. Opening an already-open
// subscriber is a no-op.
func (p *PersistenceSubscriber) Open() {
	if p.open {
		return
	}
	p.sub = p.bus.Subscribe(matchAll, func(event eventcore.DomainEvent) error {
		return p.appender.Append(event)
	})
	p.open = true
}

// Close unsubscribes. Closing an already-closed or never-opened subscriber
// is a no-op.
func (p *PersistenceSubscriber) Close() {
	if !p.open {
		return
	}
	p.bus.Unsubscribe(p.sub)
	p.open = false
}

// IsOpen reports whether the subscriber currently holds a live
// subscription.
func (p *PersistenceSubscriber) IsOpen() bool { return p.open }

func matchAll(eventcore.DomainEvent) bool { return true }
