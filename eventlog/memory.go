package eventlog

import (
	"context"
	"sort"
	"sync"

	"go.eventcore.dev"
)

// versionKey identifies a single (originator_id, originator_version) slot
// for the uniqueness check.
type versionKey struct {
	id      eventcore.ID
	version uint64
}

// MemoryBackend is the in-memory Log backend: a single writer mutex
// serializes InsertEvents exactly as spec.md §4.D prescribes, and readers
// take a read lock and copy the slice they need so that no caller ever
// observes backend-internal storage. Grounded on the teacher's mutex-guarded
// map pattern in internal/stream/checkpoint/memory.go, generalized from a
// single-value cache to an append-only ordered log.
type MemoryBackend struct {
	mu      sync.RWMutex
	byNotif []eventcore.StoredEvent // ordered by NotificationID ascending, dense from index 0
	seen    map[versionKey]struct{}
}

// NewMemoryBackend returns an empty, ready-to-use MemoryBackend.
// CreateTable is a no-op for this backend but is still safe to call.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{seen: make(map[versionKey]struct{})}
}

func (b *MemoryBackend) CreateTable(ctx context.Context) error {
	return nil
}

func (b *MemoryBackend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	if len(batch) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range batch {
		key := versionKey{id: e.OriginatorID, version: e.OriginatorVersion}
		if _, exists := b.seen[key]; exists {
			return &eventcore.ConcurrencyConflictError{EntityID: e.OriginatorID, Version: e.OriginatorVersion}
		}
	}

	next := uint64(len(b.byNotif)) + 1
	appended := make([]eventcore.StoredEvent, len(batch))
	for i, e := range batch {
		e.NotificationID = next
		next++
		appended[i] = e
	}
	for _, e := range appended {
		key := versionKey{id: e.OriginatorID, version: e.OriginatorVersion}
		b.seen[key] = struct{}{}
	}
	b.byNotif = append(b.byNotif, appended...)
	return nil
}

func (b *MemoryBackend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []eventcore.StoredEvent
	for _, e := range b.byNotif {
		if e.OriginatorID != id {
			continue
		}
		if gt != nil && e.OriginatorVersion <= *gt {
			continue
		}
		if lte != nil && e.OriginatorVersion > *lte {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if desc {
			return matched[i].OriginatorVersion > matched[j].OriginatorVersion
		}
		return matched[i].OriginatorVersion < matched[j].OriginatorVersion
	})
	if limit > 0 && uint64(len(matched)) > limit {
		matched = matched[:limit]
	}
	out := make([]eventcore.StoredEvent, len(matched))
	copy(out, matched)
	return out, nil
}

func (b *MemoryBackend) SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if start == 0 {
		start = 1
	}
	if start > uint64(len(b.byNotif)) {
		return nil, nil
	}
	startIdx := start - 1
	endIdx := uint64(len(b.byNotif))
	if limit > 0 && startIdx+limit < endIdx {
		endIdx = startIdx + limit
	}
	out := make([]eventcore.StoredEvent, endIdx-startIdx)
	copy(out, b.byNotif[startIdx:endIdx])
	return out, nil
}

func (b *MemoryBackend) MaxNotificationID(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.byNotif)), nil
}

var _ Backend = (*MemoryBackend)(nil)
