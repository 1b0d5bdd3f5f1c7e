package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/backend/resilience"
	"go.eventcore.dev/eventlog"
)

// failingBackend always fails InsertEvents, to drive the breaker open.
type failingBackend struct {
	eventlog.Backend
	calls int
}

func (f *failingBackend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	f.calls++
	return errors.New("storage unavailable")
}

func TestResilienceBackend_PassesThroughSuccess(t *testing.T) {
	ctx := context.Background()
	inner := eventlog.NewMemoryBackend()
	b := resilience.Wrap(inner, resilience.DefaultConfig("test"))

	require.NoError(t, b.CreateTable(ctx))
	id := eventcore.NewID()
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{
		{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
	}))

	events, err := b.SelectEvents(ctx, id, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestResilienceBackend_ConcurrencyConflictIsNotMasked(t *testing.T) {
	ctx := context.Background()
	inner := eventlog.NewMemoryBackend()
	b := resilience.Wrap(inner, resilience.DefaultConfig("test"))

	id := eventcore.NewID()
	event := eventcore.StoredEvent{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)}
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{event}))

	err := b.InsertEvents(ctx, []eventcore.StoredEvent{event})
	require.Error(t, err)
	var conflict *eventcore.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestResilienceBackend_TripsOpenAfterFailures(t *testing.T) {
	ctx := context.Background()
	inner := &failingBackend{}
	cfg := resilience.DefaultConfig("test")
	cfg.MinRequests = 2
	cfg.Ratio = 0.5
	b := resilience.Wrap(inner, cfg)

	id := eventcore.NewID()
	for i := 0; i < 2; i++ {
		err := b.InsertEvents(ctx, []eventcore.StoredEvent{{OriginatorID: id, OriginatorVersion: uint64(i)}})
		require.Error(t, err)
	}

	err := b.InsertEvents(ctx, []eventcore.StoredEvent{{OriginatorID: id, OriginatorVersion: 2}})
	require.Error(t, err)
	var backendErr *eventcore.BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, 2, inner.calls, "an open breaker must not forward the third call")
}
