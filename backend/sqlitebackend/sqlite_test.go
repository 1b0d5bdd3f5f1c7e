package sqlitebackend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/backend/sqlitebackend"
)

func newBackend(t *testing.T) *sqlitebackend.Backend {
	t.Helper()
	b, err := sqlitebackend.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	require.NoError(t, b.CreateTable(context.Background()))
	return b
}

func TestSQLiteBackend_InsertAndSelect(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	id := eventcore.NewID()

	batch := []eventcore.StoredEvent{
		{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
		{OriginatorID: id, OriginatorVersion: 1, Topic: "widget.Renamed", State: []byte(`{}`)},
	}
	require.NoError(t, b.InsertEvents(ctx, batch))

	events, err := b.SelectEvents(ctx, id, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(0), events[0].OriginatorVersion)
	require.Equal(t, uint64(1), events[1].OriginatorVersion)
	require.Equal(t, uint64(1), events[0].NotificationID)
	require.Equal(t, uint64(2), events[1].NotificationID)

	max, err := b.MaxNotificationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), max)
}

func TestSQLiteBackend_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	id := eventcore.NewID()

	first := []eventcore.StoredEvent{{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)}}
	require.NoError(t, b.InsertEvents(ctx, first))

	dup := []eventcore.StoredEvent{{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)}}
	err := b.InsertEvents(ctx, dup)
	require.Error(t, err)
	var conflict *eventcore.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestSQLiteBackend_SelectNotifications(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	a, c := eventcore.NewID(), eventcore.NewID()

	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{
		{OriginatorID: a, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
		{OriginatorID: c, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
	}))

	page, err := b.SelectNotifications(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, c, page[0].OriginatorID)
}
