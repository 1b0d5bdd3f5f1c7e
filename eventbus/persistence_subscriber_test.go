package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/eventbus"
)

func TestPersistenceSubscriber_ForwardsToAppender(t *testing.T) {
	bus := eventbus.New()
	var appended []eventcore.DomainEvent
	sub := eventbus.NewPersistenceSubscriber(bus, eventbus.AppenderFunc(func(e eventcore.DomainEvent) error {
		appended = append(appended, e)
		return nil
	}))

	require.False(t, sub.IsOpen())
	sub.Open()
	require.True(t, sub.IsOpen())
	require.False(t, bus.AssertEmpty())

	e := eventcore.New(eventcore.NewID(), 0, "widget.Created", nil, time.Time{})
	require.NoError(t, bus.Publish(e))
	require.Len(t, appended, 1)

	sub.Close()
	require.False(t, sub.IsOpen())
	require.True(t, bus.AssertEmpty())

	require.NoError(t, bus.Publish(e))
	require.Len(t, appended, 1, "closed subscriber must not receive further events")
}
