// Package eventlog defines component D's Backend interface — the
// append-only per-entity sequence plus the strictly monotonic global
// notification index — and ships the in-memory implementation used as the
// default test fixture. SQLite, PostgreSQL and MongoDB implementations live
// in their own subpackages (backend/sqlitebackend, backend/pgbackend,
// backend/mongobackend) so that importing the core never drags in a
// particular driver.
package eventlog

import (
	"context"

	"go.eventcore.dev"
)

// Backend is the interface every Log backend implementation satisfies.
// Implementations must serialize insert_events so that the notification id
// is allocated under the same critical section as the
// (originator_id, originator_version) uniqueness check: a reader must never
// observe an id without its record (spec.md §4.D).
type Backend interface {
	// InsertEvents durably appends batch atomically: either every record
	// gets a consecutive notification id, or none are persisted.
	// Returns *eventcore.ConcurrencyConflictError if any
	// (OriginatorID, OriginatorVersion) pair already exists.
	InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error

	// SelectEvents returns events for id in version order (descending if
	// desc is true), optionally bounded by (gt, lte] and limit. A zero
	// limit means unbounded.
	SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error)

	// SelectNotifications returns records with notification_id in
	// [start, start+limit) in ascending id order. May return fewer than
	// limit if the tail is reached. limit of 0 means unbounded.
	SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error)

	// MaxNotificationID returns the greatest assigned id, 0 if empty.
	MaxNotificationID(ctx context.Context) (uint64, error)

	// CreateTable performs idempotent schema installation.
	CreateTable(ctx context.Context) error
}
