// Package snapshot implements component I: taking and retrieving a
// snapshot of a live entity as a specially-keyed event stream
// ("snapshot:<entity_id>"), so the player can bound replay cost.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.eventcore.dev"
)

// appendableStore is the subset of *eventstore.Store the snapshot service
// needs, kept as an interface so this package does not import eventstore.
type appendableStore interface {
	AppendRawForSnapshot(ctx context.Context, event eventcore.DomainEvent) error
	GetMostRecentEvent(ctx context.Context, entityID eventcore.ID) (eventcore.DomainEvent, bool, error)
}

// snapshotTopic is the fixed topic every snapshot record carries; snapshots
// are never decoded through the domain topic registry, so there is no
// collision risk with real event kinds.
const snapshotTopic = eventcore.TypeDescriptor("eventcore.snapshot")

const (
	entityVersionKey = "entity_version"
	stateKey         = "state"
)

// Snapshot is the decoded result of GetSnapshot: the entity version the
// snapshot was taken at, and the opaque entity state itself.
type Snapshot struct {
	EntityVersion uint64
	State         eventcore.Entity
}

// Service is component I.
type Service struct {
	store appendableStore
}

// New returns a Service persisting snapshots through store.
func New(store appendableStore) *Service {
	return &Service{store: store}
}

// TakeSnapshot serializes state (the caller's opaque entity value, at
// entityVersion) and appends it to entityID's reserved snapshot stream.
// The snapshot stream has its own independent version counter so repeated
// snapshots of the same entity never collide on (id, version).
func (s *Service) TakeSnapshot(ctx context.Context, entityID eventcore.ID, entityVersion uint64, state eventcore.Entity) error {
	snapKey := eventcore.SnapshotStreamKey(entityID)
	nextStreamVersion := uint64(0)
	if prev, ok, err := s.store.GetMostRecentEvent(ctx, snapKey); err != nil {
		return err
	} else if ok {
		nextStreamVersion = prev.EntityVersion() + 1
	}
	payload := map[string]any{
		entityVersionKey: entityVersion,
		stateKey:         state,
	}
	event := eventcore.New(snapKey, nextStreamVersion, snapshotTopic, payload, time.Now())
	return s.store.AppendRawForSnapshot(ctx, event)
}

// GetSnapshot returns the most recent snapshot for entityID, or
// (zero-value, false, nil) if none has been taken.
func (s *Service) GetSnapshot(ctx context.Context, entityID eventcore.ID) (Snapshot, bool, error) {
	snapKey := eventcore.SnapshotStreamKey(entityID)
	event, ok, err := s.store.GetMostRecentEvent(ctx, snapKey)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	payload := event.Payload()
	version, err := toUint64(payload[entityVersionKey])
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: decoding entity_version: %w", err)
	}
	return Snapshot{EntityVersion: version, State: payload[stateKey]}, true, nil
}

// toUint64 undoes the float64 widening JSON decoding performs on numbers:
// entity_version is written as a uint64 but round trips through
// encoding/json's untyped number representation.
func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case float64:
		return uint64(n), nil
	case json.Number:
		i, err := n.Int64()
		return uint64(i), err
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
