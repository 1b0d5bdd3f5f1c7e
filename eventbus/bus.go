// Package eventbus implements component F: an in-process, single-process
// publish/subscribe bus with predicate-based dispatch, and component G, the
// persistence subscriber that forwards every published DomainEvent to an
// event store.
package eventbus

import (
	"sync"
	"time"
	"unsafe"

	"go.eventcore.dev"
)

// Observer is notified after each matched handler runs, so callers can
// wire in metrics (e.g. internal/obsmetrics.ObserveHandler) without this
// package depending on any particular instrumentation library.
type Observer func(topic eventcore.TypeDescriptor, duration time.Duration, err error)

// Predicate decides whether a handler is interested in an event.
// Predicates are distinct subscription keys by identity, not merged by
// semantic equivalence (spec.md §4.F): subscribing the same predicate
// function value twice creates two independent entries.
type Predicate func(event eventcore.DomainEvent) bool

// Handler reacts to a published DomainEvent. A handler may return an
// error, in which case Publish aborts immediately: already-invoked
// handlers have completed, remaining ones are skipped, and the error
// propagates to the publisher (spec.md §7 "Handlers invoked by the bus
// propagate their exceptions to the publisher").
type Handler func(event eventcore.DomainEvent) error

// entry pairs one subscribed predicate with its handler and gives it an
// identity independent of the predicate/handler function values, so
// Unsubscribe can remove exactly the pair that Subscribe returned without
// relying on function-value comparability (Go function values are not
// comparable with ==, except against nil).
type entry struct {
	predicate Predicate
	handler   Handler
}

// Subscription is the token returned by Subscribe; pass it to Unsubscribe
// to remove exactly that predicate/handler pair.
type Subscription struct {
	id uint64
}

// Bus is the process-wide subscriber table described in spec.md §4.F and
// §9 ("process-wide subscriber table"). The zero value is not usable; use
// New.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	order    []uint64 // insertion order of subscription ids, for deterministic predicate iteration
	entries  map[uint64]entry
	observer Observer
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{entries: make(map[uint64]entry)}
}

// SetObserver installs a callback invoked after every matched handler runs
// during Publish, timed and keyed by the published event's topic. Passing
// nil disables observation. Not itself goroutine-safe against concurrent
// Publish calls; set it before the bus starts serving traffic.
func (b *Bus) SetObserver(observer Observer) {
	b.observer = observer
}

// Subscribe registers handler under predicate and returns a Subscription
// identifying the pair for later Unsubscribe.
func (b *Bus) Subscribe(predicate Predicate, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.entries[id] = entry{predicate: predicate, handler: handler}
	b.order = append(b.order, id)
	return Subscription{id: id}
}

// Unsubscribe removes the pair sub identifies. Unsubscribing an already
// removed or unknown Subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[sub.id]; !ok {
		return
	}
	delete(b.entries, sub.id)
	for i, id := range b.order {
		if id == sub.id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live subscriptions, the backbone of the test
// fence described in spec.md §8 (S6) and §3 ("assert_event_handlers_empty").
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// AssertEmpty reports whether no subscriptions remain; tests use this
// between cases to catch leaked subscriptions (spec.md §8 S6).
func (b *Bus) AssertEmpty() bool {
	return b.Len() == 0
}

// Publish iterates the subscriber table in insertion order, appending each
// matching predicate's handler to a deduplicated pending list (so a
// handler subscribed under several matching predicates runs once), then
// invokes handlers in the order they were first encountered. Publish reads
// a snapshot of the table taken at entry, so a handler that
// subscribes/unsubscribes during dispatch never mutates the in-flight
// iteration (spec.md §9 "this spec fixes the semantics by requiring
// publish to operate on a snapshot of the table taken at entry"). Handlers
// run synchronously on the caller's goroutine; a handler error aborts
// dispatch immediately and propagates to the caller.
func (b *Bus) Publish(event eventcore.DomainEvent) error {
	snapshot := b.snapshot()

	// Dedup by handler identity (its closure address), not by subscription:
	// the same handler registered under two predicates that both match
	// must still run exactly once per publish (spec.md §4.F). Go func
	// values are not comparable with ==, so handlerIdentity stands in as
	// the identity key; distinct closures over different captured state
	// are therefore treated as distinct handlers, which is the
	// conservative and expected reading for that case.
	seen := make(map[uintptr]struct{}, len(snapshot))
	pending := make([]Handler, 0, len(snapshot))
	for _, e := range snapshot {
		if !e.predicate(event) {
			continue
		}
		key := handlerIdentity(e.handler)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, e.handler)
	}

	for _, handler := range pending {
		start := time.Now()
		err := handler(event)
		if b.observer != nil {
			b.observer(event.Kind(), time.Since(start), err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// handlerIdentity returns the address of the closure object a func value
// refers to. Copies of one func value share it; two closures created from
// the same function literal with different captured state do not (unlike
// reflect.Value.Pointer, which returns their shared code pointer).
func handlerIdentity(h Handler) uintptr {
	return *(*uintptr)(unsafe.Pointer(&h))
}

func (b *Bus) snapshot() []entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]entry, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.entries[id])
	}
	return out
}
