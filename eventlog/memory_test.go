package eventlog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

func stored(id eventcore.ID, version uint64, topic string) eventcore.StoredEvent {
	return eventcore.StoredEvent{
		OriginatorID:      id,
		OriginatorVersion: version,
		Topic:             topic,
		State:             []byte(`{}`),
	}
}

// S1 (basic round-trip), spec.md §8.
func TestMemoryBackend_BasicRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := eventlog.NewMemoryBackend()
	require.NoError(t, b.CreateTable(ctx))

	u1, u2 := eventcore.ID("U1"), eventcore.ID("U2")
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 0, "t1")}))
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 1, "t2")}))
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u2, 1, "t3")}))

	u1Events, err := b.SelectEvents(ctx, u1, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, u1Events, 2)
	require.Equal(t, uint64(0), u1Events[0].OriginatorVersion)
	require.Equal(t, uint64(1), u1Events[1].OriginatorVersion)

	u2Events, err := b.SelectEvents(ctx, u2, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, u2Events, 1)

	notifs, err := b.SelectNotifications(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, notifs, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{notifs[0].NotificationID, notifs[1].NotificationID, notifs[2].NotificationID})
	require.Equal(t, []string{"t1", "t2", "t3"}, []string{notifs[0].Topic, notifs[1].Topic, notifs[2].Topic})

	maxID, err := b.MaxNotificationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxID)
}

// S2 (paging), spec.md §8.
func TestMemoryBackend_Paging(t *testing.T) {
	ctx := context.Background()
	b := eventlog.NewMemoryBackend()
	u1, u2 := eventcore.ID("U1"), eventcore.ID("U2")
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 0, "t1")}))
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 1, "t2")}))
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u2, 1, "t3")}))

	page, err := b.SelectNotifications(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].NotificationID)

	page, err = b.SelectNotifications(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].NotificationID)
	require.Equal(t, uint64(3), page[1].NotificationID)

	page, err = b.SelectNotifications(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(3), page[0].NotificationID)
}

func TestMemoryBackend_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	b := eventlog.NewMemoryBackend()
	u1 := eventcore.ID("U1")
	require.NoError(t, b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 0, "t1")}))

	err := b.InsertEvents(ctx, []eventcore.StoredEvent{stored(u1, 0, "t1-dup")})
	require.Error(t, err)
	var conflict *eventcore.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)

	events, err := b.SelectEvents(ctx, u1, nil, nil, 0, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

// S3 (concurrency soak), spec.md §8.
func TestMemoryBackend_ConcurrencySoak(t *testing.T) {
	ctx := context.Background()
	b := eventlog.NewMemoryBackend()

	const writers = 4
	const perWriter = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	stop := make(chan struct{})
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = b.SelectNotifications(ctx, 0, 10)
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := eventcore.ID(eventcore.NewID())
				if err := b.InsertEvents(ctx, []eventcore.StoredEvent{stored(id, 0, "t")}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readerWG.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	maxID, err := b.MaxNotificationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(writers*perWriter), maxID)

	all, err := b.SelectNotifications(ctx, 1, uint64(writers*perWriter))
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	seen := make(map[eventcore.ID]struct{}, len(all))
	for _, e := range all {
		seen[e.OriginatorID] = struct{}{}
	}
	require.Len(t, seen, writers*perWriter)
}
