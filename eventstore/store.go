// Package eventstore implements component E: a typed facade over a Log
// backend that uses the topic registry and transcoder to move between
// DomainEvent and StoredEvent.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
	"go.eventcore.dev/transcode"
)

// Store is the typed facade described in spec.md §4.E. DomainEvent.Kind()
// already *is* the topic string (component A's job is mapping that string
// to a Go type for domain code and the transcoder's class envelope, not for
// the store), so Store only needs a Log backend and a Transcoder.
type Store struct {
	backend    eventlog.Backend
	transcoder *transcode.Transcoder
}

// New returns a Store backed by backend, encoding/decoding payloads through
// transcoder.
func New(backend eventlog.Backend, transcoder *transcode.Transcoder) *Store {
	return &Store{backend: backend, transcoder: transcoder}
}

// CreateTable delegates to the underlying backend's idempotent schema
// install.
func (s *Store) CreateTable(ctx context.Context) error {
	return s.backend.CreateTable(ctx)
}

// Append encodes event via the transcoder, takes its topic from
// event.Kind(), and inserts the resulting StoredEvent as a single-record batch.
// append rejects entity ids under the reserved snapshot stream prefix: that
// namespace belongs exclusively to the snapshot service.
func (s *Store) Append(ctx context.Context, event eventcore.DomainEvent) error {
	if eventcore.IsSnapshotStreamKey(event.EntityID()) {
		return fmt.Errorf("eventstore: entity id %q is reserved for snapshots, cannot append a regular event", event.EntityID())
	}
	return s.appendRaw(ctx, event)
}

// appendRaw performs the encode+insert without the snapshot-prefix guard,
// so the snapshot service (which legitimately targets that namespace) can
// reuse it.
func (s *Store) appendRaw(ctx context.Context, event eventcore.DomainEvent) error {
	stored, err := s.encode(event)
	if err != nil {
		return err
	}
	return s.backend.InsertEvents(ctx, []eventcore.StoredEvent{stored})
}

// AppendRawForSnapshot is the snapshot service's entry point into the
// append path; it bypasses the Append guard intentionally.
func (s *Store) AppendRawForSnapshot(ctx context.Context, event eventcore.DomainEvent) error {
	return s.appendRaw(ctx, event)
}

// timestampPayloadKey carries DomainEvent.Timestamp inside the encoded
// state: StoredEvent's wire shape (spec.md §3) has no timestamp field of
// its own, so the event store smuggles it through the payload the
// transcoder already round-trips, using a key no domain payload is allowed
// to collide with.
const timestampPayloadKey = "__timestamp__"

func (s *Store) encode(event eventcore.DomainEvent) (eventcore.StoredEvent, error) {
	payload := event.Payload()
	payload[timestampPayloadKey] = event.Timestamp()
	state, err := s.transcoder.EncodePayload(payload)
	if err != nil {
		return eventcore.StoredEvent{}, err
	}
	return eventcore.StoredEvent{
		OriginatorID:      event.EntityID(),
		OriginatorVersion: event.EntityVersion(),
		Topic:             string(event.Kind()),
		State:             state,
	}, nil
}

func (s *Store) decode(se eventcore.StoredEvent) (eventcore.DomainEvent, error) {
	payload, err := s.transcoder.DecodePayload(se.State)
	if err != nil {
		return eventcore.DomainEvent{}, err
	}
	var ts time.Time
	if raw, ok := payload[timestampPayloadKey]; ok {
		if parsed, ok := raw.(time.Time); ok {
			ts = parsed
		}
		delete(payload, timestampPayloadKey)
	}
	return eventcore.New(se.OriginatorID, se.OriginatorVersion, eventcore.TypeDescriptor(se.Topic), payload, ts), nil
}

// GetEvents returns every event for entityID in ascending version order,
// optionally starting strictly after afterVersion. Pure function of
// backend state at call time: callers needing a stable read should pair it
// with their own snapshotting of notification ids.
func (s *Store) GetEvents(ctx context.Context, entityID eventcore.ID, afterVersion *uint64) ([]eventcore.DomainEvent, error) {
	stored, err := s.backend.SelectEvents(ctx, entityID, afterVersion, nil, 0, false)
	if err != nil {
		return nil, err
	}
	out := make([]eventcore.DomainEvent, 0, len(stored))
	for _, se := range stored {
		event, err := s.decode(se)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// GetEventsPage is GetEvents bounded by limit, for the player's paged
// replay (spec.md §4.H "paging by page_size").
func (s *Store) GetEventsPage(ctx context.Context, entityID eventcore.ID, afterVersion *uint64, limit uint64) ([]eventcore.DomainEvent, error) {
	stored, err := s.backend.SelectEvents(ctx, entityID, afterVersion, nil, limit, false)
	if err != nil {
		return nil, err
	}
	out := make([]eventcore.DomainEvent, 0, len(stored))
	for _, se := range stored {
		event, err := s.decode(se)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// GetMostRecentEvent returns the highest-version event for entityID, or
// (zero-value, false, nil) if none exists.
func (s *Store) GetMostRecentEvent(ctx context.Context, entityID eventcore.ID) (eventcore.DomainEvent, bool, error) {
	stored, err := s.backend.SelectEvents(ctx, entityID, nil, nil, 1, true)
	if err != nil {
		return eventcore.DomainEvent{}, false, err
	}
	if len(stored) == 0 {
		return eventcore.DomainEvent{}, false, nil
	}
	event, err := s.decode(stored[0])
	if err != nil {
		return eventcore.DomainEvent{}, false, err
	}
	return event, true, nil
}
