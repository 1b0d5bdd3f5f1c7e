// Package checkpoint stores a reader's last-consumed notification id so a
// restart resumes rather than re-scanning the whole Log from the start.
// Grounded in the teacher's internal/stream/checkpoint package, generalized
// from an opaque resume-token (bson.Raw) to eventcore's notification index,
// a plain monotonic uint64.
package checkpoint

import "context"

// Store persists and retrieves a named reader's checkpoint.
type Store interface {
	// GetCheckpoint returns the notification id the reader last consumed,
	// and false if no checkpoint has been saved for key yet.
	GetCheckpoint(ctx context.Context, key string) (uint64, bool, error)

	// SaveCheckpoint records notificationID as key's checkpoint.
	SaveCheckpoint(ctx context.Context, key string, notificationID uint64) error

	// Delete removes key's checkpoint.
	Delete(ctx context.Context, key string) error
}
