package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev/notify/relay"
)

func TestRelay_EmbeddedPublishAndSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real embedded NATS server; skipped in short mode")
	}

	ctx := context.Background()
	srv, err := relay.StartEmbedded(ctx, relay.EmbeddedConfig{
		DataDir: t.TempDir(),
		Port:    14222,
	})
	if err != nil {
		t.Skipf("embedded NATS server unavailable in this environment: %v", err)
	}
	defer srv.Close()

	received := make(chan relay.Advance, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = srv.Subscribe(subCtx, func(a relay.Advance) {
			select {
			case received <- a:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		return srv.Publish(ctx, relay.Advance{From: 1, To: 3}) == nil
	}, 2*time.Second, 50*time.Millisecond)

	select {
	case adv := <-received:
		require.Equal(t, uint64(1), adv.From)
		require.Equal(t, uint64(3), adv.To)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed advance")
	}
}
