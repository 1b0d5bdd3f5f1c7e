package pgbackend_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/backend/pgbackend"
)

// TestPostgresBackend_InsertAndSelect exercises the real driver against a
// live database addressed by EVENTCORE_TEST_POSTGRES_DSN. Skipped in short
// mode, matching the teacher's integration test convention.
func TestPostgresBackend_InsertAndSelect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("EVENTCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EVENTCORE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	b := pgbackend.New(pool)
	require.NoError(t, b.CreateTable(ctx))

	id := eventcore.NewID()
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{
		{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
	}))

	events, err := b.SelectEvents(ctx, id, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, events, 1)

	dup := []eventcore.StoredEvent{{OriginatorID: id, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)}}
	err = b.InsertEvents(ctx, dup)
	var conflict *eventcore.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)

	// A rolled-back insert (the conflict above) must not burn a
	// notification id: the next successful insert has to land immediately
	// after the last committed one, with no gap.
	other := eventcore.NewID()
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{
		{OriginatorID: other, OriginatorVersion: 0, Topic: "widget.Created", State: []byte(`{}`)},
	}))
	max, err := b.MaxNotificationID(ctx)
	require.NoError(t, err)
	notifications, err := b.SelectNotifications(ctx, 1, max)
	require.NoError(t, err)
	require.Len(t, notifications, int(max), "notification index must be gap-free")
}
