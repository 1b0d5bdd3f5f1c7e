package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
	"go.eventcore.dev/eventstore"
	"go.eventcore.dev/transcode"
)

func TestStore_AppendAndGetEvents(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	id := eventcore.NewID()

	e0 := eventcore.New(id, 0, "widget.Created", map[string]any{"name": "thing"}, time.Time{})
	e1 := eventcore.New(id, 1, "widget.Renamed", map[string]any{"name": "other"}, time.Time{})
	require.NoError(t, store.Append(ctx, e0))
	require.NoError(t, store.Append(ctx, e1))

	events, err := store.GetEvents(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "thing", events[0].Payload()["name"])
	require.Equal(t, "other", events[1].Payload()["name"])
	require.Equal(t, eventcore.TypeDescriptor("widget.Created"), events[0].Kind())

	recent, ok, err := store.GetMostRecentEvent(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), recent.EntityVersion())
}

func TestStore_RejectsSnapshotPrefix(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	snapID := eventcore.SnapshotStreamKey(eventcore.NewID())

	e := eventcore.New(snapID, 0, "widget.Created", nil, time.Time{})
	err := store.Append(ctx, e)
	require.Error(t, err)
}
