// Package mongobackend implements component D's Backend interface over
// MongoDB, grounded in the teacher's mongoRepository pattern
// (internal/platform/event/mongo_repository.go): one collection, a compound
// unique index for the optimistic concurrency check, and
// mongo.IsDuplicateKeyError to recognize a conflicting write.
package mongobackend

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

// document is the BSON shape of a single StoredEvent. notification_id is
// assigned client-side from a monotonic counter seeded from the
// collection's current maximum, guarded by mu so that InsertEvents keeps
// the "id implies durable record" invariant (spec.md §4.D) under
// concurrent callers within this process.
type document struct {
	NotificationID    uint64 `bson:"notification_id"`
	OriginatorID      string `bson:"originator_id"`
	OriginatorVersion uint64 `bson:"originator_version"`
	Topic             string `bson:"topic"`
	State             []byte `bson:"state"`
}

// Backend is a MongoDB-backed Log backend. InsertEvents runs inside a
// client session transaction so that a conflicting event in the middle of
// a batch never leaves a partial write behind; this requires the target
// deployment to be a replica set, matching the teacher's own MongoDB URI
// convention (mongodb://...?replicaSet=rs0).
type Backend struct {
	client *mongo.Client
	events *mongo.Collection

	mu       sync.Mutex
	nextNotf uint64 // 0 means "not yet initialized from the collection"
}

// New wraps the given collection. Call CreateTable once before use to
// install the unique index and seed the notification counter.
func New(client *mongo.Client, events *mongo.Collection) *Backend {
	return &Backend{client: client, events: events}
}

func (b *Backend) CreateTable(ctx context.Context) error {
	_, err := b.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "originator_id", Value: 1}, {Key: "originator_version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return &eventcore.BackendError{Op: "create_table", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	max, err := b.currentMaxLocked(ctx)
	if err != nil {
		return err
	}
	b.nextNotf = max + 1
	return nil
}

func (b *Backend) currentMaxLocked(ctx context.Context) (uint64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "notification_id", Value: -1}})
	var doc document
	err := b.events.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, &eventcore.BackendError{Op: "max_notification_id", Err: err}
	}
	return doc.NotificationID, nil
}

func (b *Backend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	if len(batch) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextNotf == 0 {
		max, err := b.currentMaxLocked(ctx)
		if err != nil {
			return err
		}
		b.nextNotf = max + 1
	}

	docs := make([]any, len(batch))
	for i, e := range batch {
		docs[i] = document{
			NotificationID:    b.nextNotf,
			OriginatorID:      string(e.OriginatorID),
			OriginatorVersion: e.OriginatorVersion,
			Topic:             e.Topic,
			State:             e.State,
		}
		b.nextNotf++
	}

	session, err := b.client.StartSession()
	if err != nil {
		b.nextNotf -= uint64(len(batch))
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		_, err := b.events.InsertMany(sessCtx, docs, options.InsertMany().SetOrdered(true))
		return nil, err
	})
	if err != nil {
		b.nextNotf -= uint64(len(batch)) // roll back the reservation on failure
		if mongo.IsDuplicateKeyError(err) {
			first := batch[0]
			return &eventcore.ConcurrencyConflictError{EntityID: first.OriginatorID, Version: first.OriginatorVersion}
		}
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	return nil
}

func (b *Backend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	filter := bson.M{"originator_id": string(id)}
	versionRange := bson.M{}
	if gt != nil {
		versionRange["$gt"] = *gt
	}
	if lte != nil {
		versionRange["$lte"] = *lte
	}
	if len(versionRange) > 0 {
		filter["originator_version"] = versionRange
	}

	order := 1
	if desc {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "originator_version", Value: order}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := b.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "select_events", Err: err}
	}
	defer cursor.Close(ctx)
	return decodeAll(ctx, cursor)
}

func (b *Backend) SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error) {
	if start == 0 {
		start = 1
	}
	filter := bson.M{"notification_id": bson.M{"$gte": start}}
	opts := options.Find().SetSort(bson.D{{Key: "notification_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := b.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "select_notifications", Err: err}
	}
	defer cursor.Close(ctx)
	return decodeAll(ctx, cursor)
}

func (b *Backend) MaxNotificationID(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentMaxLocked(ctx)
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]eventcore.StoredEvent, error) {
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &eventcore.BackendError{Op: "decode_events", Err: err}
	}
	out := make([]eventcore.StoredEvent, len(docs))
	for i, d := range docs {
		out[i] = eventcore.StoredEvent{
			OriginatorID:      eventcore.ID(d.OriginatorID),
			OriginatorVersion: d.OriginatorVersion,
			Topic:             d.Topic,
			State:             d.State,
			NotificationID:    d.NotificationID,
		}
	}
	return out, nil
}

var _ eventlog.Backend = (*Backend)(nil)
