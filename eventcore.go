// Package eventcore defines the data model shared by every other package in
// this module: the identifiers, the frozen DomainEvent value type, the wire
// StoredEvent record, the mutator indirection used by the player, and the
// typed error kinds every component surfaces to callers.
package eventcore

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ID is a non-empty opaque entity identifier. UUID strings are recommended
// but not required; the core never parses or interprets the value.
type ID string

// NewID returns a randomly generated UUIDv4-backed ID, the recommended
// default per the data model.
func NewID() ID {
	return ID(uuid.NewString())
}

// TypeDescriptor is the stable discriminator a DomainEvent carries, i.e. its
// topic. See package topic for the registry that maps these to Go types.
type TypeDescriptor string

// SnapshotStreamPrefix marks the reserved per-entity stream used by the
// snapshot service (spec: stream key "snapshot:<entity_id>"). append()
// implementations must reject entity ids under this prefix.
const SnapshotStreamPrefix = "snapshot:"

// SnapshotStreamKey returns the reserved stream key under which snapshots of
// id are stored, so they coexist with but never interleave the event stream.
func SnapshotStreamKey(id ID) ID {
	return ID(SnapshotStreamPrefix + string(id))
}

// IsSnapshotStreamKey reports whether id is a reserved snapshot stream key
// rather than a regular entity id.
func IsSnapshotStreamKey(id ID) bool {
	return len(id) > len(SnapshotStreamPrefix) && string(id[:len(SnapshotStreamPrefix)]) == SnapshotStreamPrefix
}

// DomainEvent is the frozen value object domain code constructs, publishes,
// and eventually appends. Once returned by New, no field may be rewritten;
// Payload is copied on construction so the caller's map cannot alias it.
type DomainEvent struct {
	entityID      ID
	entityVersion uint64
	timestamp     time.Time
	kind          TypeDescriptor
	payload       map[string]any
}

// New constructs a frozen DomainEvent. If timestamp is the zero value, the
// current wall-clock instant is filled in, matching the spec's "filled at
// construction if absent" rule.
func New(entityID ID, entityVersion uint64, kind TypeDescriptor, payload map[string]any, timestamp time.Time) DomainEvent {
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	frozen := make(map[string]any, len(payload))
	for k, v := range payload {
		frozen[k] = v
	}
	return DomainEvent{
		entityID:      entityID,
		entityVersion: entityVersion,
		timestamp:     timestamp,
		kind:          kind,
		payload:       frozen,
	}
}

func (e DomainEvent) EntityID() ID             { return e.entityID }
func (e DomainEvent) EntityVersion() uint64    { return e.entityVersion }
func (e DomainEvent) Timestamp() time.Time     { return e.timestamp }
func (e DomainEvent) Kind() TypeDescriptor     { return e.kind }

// Payload returns a defensive copy so callers cannot mutate the frozen
// event through the returned map.
func (e DomainEvent) Payload() map[string]any {
	out := make(map[string]any, len(e.payload))
	for k, v := range e.payload {
		out[k] = v
	}
	return out
}

// Equal implements the structural equality invariant: two DomainEvents are
// equal iff their kind and every field (entity id, version, timestamp,
// payload) are equal.
func (e DomainEvent) Equal(other DomainEvent) bool {
	if e.entityID != other.entityID ||
		e.entityVersion != other.entityVersion ||
		e.kind != other.kind ||
		!e.timestamp.Equal(other.timestamp) {
		return false
	}
	return reflect.DeepEqual(e.payload, other.payload)
}

// Entity is the opaque rebuilt aggregate state the core never interprets.
// A nil Entity signals "does not exist" (never constructed, or discarded).
type Entity any

// Mutator folds an event into prior entity state. prev is nil for the first
// event of an entity. Returning nil marks the entity as discarded.
type Mutator func(prev Entity, event DomainEvent) Entity
