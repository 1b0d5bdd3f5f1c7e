package mongobackend_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.eventcore.dev"
	"go.eventcore.dev/backend/mongobackend"
)

// TestMongoBackend_InsertAndSelect exercises the real driver against a live
// replica set addressed by EVENTCORE_TEST_MONGO_URI. Skipped in short mode,
// matching the teacher's integration test convention.
func TestMongoBackend_InsertAndSelect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	uri := os.Getenv("EVENTCORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("EVENTCORE_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	coll := client.Database("eventcore_test").Collection("events")
	require.NoError(t, coll.Drop(ctx))

	b := mongobackend.New(client, coll)
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
}
