package eventbus_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/eventbus"
)

func ev(kind string) eventcore.DomainEvent {
	return eventcore.New(eventcore.NewID(), 0, eventcore.TypeDescriptor(kind), nil, time.Time{})
}

// Property 6 (spec.md §8): publish(e) invokes each handler at most once,
// in registration order, even when the handler matches multiple
// predicates.
func TestBus_DedupAndOrder(t *testing.T) {
	bus := eventbus.New()
	var calls []string

	handlerA := func(event eventcore.DomainEvent) error {
		calls = append(calls, "A")
		return nil
	}
	handlerB := func(event eventcore.DomainEvent) error {
		calls = append(calls, "B")
		return nil
	}

	matchAlways := func(eventcore.DomainEvent) bool { return true }
	matchWidget := func(e eventcore.DomainEvent) bool { return e.Kind() == "widget.Created" }

	bus.Subscribe(matchAlways, handlerA)
	bus.Subscribe(matchWidget, handlerA) // same handler, second predicate: must fire once
	bus.Subscribe(matchAlways, handlerB)

	require.NoError(t, bus.Publish(ev("widget.Created")))
	require.Equal(t, []string{"A", "B"}, calls)
}

func TestBus_UnsubscribeAndFence(t *testing.T) {
	bus := eventbus.New()
	require.True(t, bus.AssertEmpty())

	sub := bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error { return nil })
	require.False(t, bus.AssertEmpty())

	bus.Unsubscribe(sub)
	require.True(t, bus.AssertEmpty())
}

func TestBus_HandlerErrorPropagatesAndStopsDispatch(t *testing.T) {
	bus := eventbus.New()
	var ran []string
	failing := errors.New("boom")

	bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error {
		ran = append(ran, "first")
		return failing
	})
	bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error {
		ran = append(ran, "second")
		return nil
	})

	err := bus.Publish(ev("widget.Created"))
	require.ErrorIs(t, err, failing)
	require.Equal(t, []string{"first"}, ran)
}

func TestBus_ResubscribeDuringDispatchDoesNotAffectInFlightPublish(t *testing.T) {
	bus := eventbus.New()
	var secondCalled bool

	bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error {
		bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error {
			secondCalled = true
			return nil
		})
		return nil
	})

	require.NoError(t, bus.Publish(ev("widget.Created")))
	require.False(t, secondCalled, "subscription added during dispatch must not run in the same publish")

	require.NoError(t, bus.Publish(ev("widget.Created")))
	require.True(t, secondCalled, "subscription added during the previous dispatch must run on the next publish")
}

func TestBus_ObserverSeesEachMatchedHandler(t *testing.T) {
	bus := eventbus.New()
	failing := errors.New("boom")

	var observed []struct {
		topic eventcore.TypeDescriptor
		err   error
	}
	bus.SetObserver(func(topic eventcore.TypeDescriptor, duration time.Duration, err error) {
		observed = append(observed, struct {
			topic eventcore.TypeDescriptor
			err   error
		}{topic, err})
	})

	bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error { return nil })
	bus.Subscribe(func(eventcore.DomainEvent) bool { return true }, func(eventcore.DomainEvent) error { return failing })

	err := bus.Publish(ev("widget.Created"))
	require.ErrorIs(t, err, failing)
	require.Len(t, observed, 2)
	require.Equal(t, eventcore.TypeDescriptor("widget.Created"), observed[0].topic)
	require.NoError(t, observed[0].err)
	require.ErrorIs(t, observed[1].err, failing)
}
