// Package player implements component H: the snapshot-aware reconstructor
// that rebuilds an entity by folding its event stream through a
// caller-supplied mutator, optionally short-circuiting via a snapshot and
// optionally verifying a per-entity hash chain.
package player

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"go.eventcore.dev"
	"go.eventcore.dev/snapshot"
)

// eventSource is the subset of *eventstore.Store the player needs.
type eventSource interface {
	GetEventsPage(ctx context.Context, entityID eventcore.ID, afterVersion *uint64, limit uint64) ([]eventcore.DomainEvent, error)
}

// snapshotSource is the subset of *snapshot.Service the player needs. Left
// nil, the player always replays from version 0.
type snapshotSource interface {
	GetSnapshot(ctx context.Context, entityID eventcore.ID) (snapshot.Snapshot, bool, error)
}

// previousHashKey is the optional payload field a domain event carries when
// hash-chain verification is enabled (spec.md §4.H).
const previousHashKey = "__previous_hash__"

// Option configures a Player.
type Option func(*Player)

// WithPageSize bounds how many events GetEventsPage fetches per round
// trip. Zero (the default) means "fetch everything in one page" per
// eventlog.Backend's "limit 0 is unbounded" convention.
func WithPageSize(pageSize uint64) Option {
	return func(p *Player) { p.pageSize = pageSize }
}

// WithSnapshots configures a snapshot source. Without this option the
// player always replays the full event stream.
func WithSnapshots(source snapshotSource) Option {
	return func(p *Player) { p.snapshots = source }
}

// WithHashChain enables per-event hash-chain verification: each event's
// payload must carry a previousHashKey field equal to the blake2b-256
// digest of the prior event's canonical payload. A mismatch fails with
// *eventcore.LogIntegrityError.
func WithHashChain(enabled bool) Option {
	return func(p *Player) { p.verifyHashChain = enabled }
}

// Player is component H.
type Player struct {
	events    eventSource
	mutator   eventcore.Mutator
	snapshots snapshotSource
	pageSize  uint64

	verifyHashChain bool
}

// New returns a Player folding events from events through mutator.
func New(events eventSource, mutator eventcore.Mutator, opts ...Option) *Player {
	p := &Player{events: events, mutator: mutator}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rebuild implements the algorithm in spec.md §4.H: fetch the most recent
// snapshot (if configured), then fold every subsequent event in ascending
// version order. Fails with *eventcore.EntityNotFoundError if the final
// state is nil (no snapshot, no events, or a Discarded-style mutator
// returned nil), and with *eventcore.LogIntegrityError on a version gap,
// duplicate, or hash-chain mismatch.
func (p *Player) Rebuild(ctx context.Context, entityID eventcore.ID) (eventcore.Entity, error) {
	var state eventcore.Entity
	var expectedNext uint64
	var afterVersion *uint64
	var previousDigest []byte

	if p.snapshots != nil {
		snap, ok, err := p.snapshots.GetSnapshot(ctx, entityID)
		if err != nil {
			return nil, err
		}
		if ok {
			state = snap.State
			v := snap.EntityVersion
			afterVersion = &v
			expectedNext = v + 1
		}
	}

	for {
		page, err := p.events.GetEventsPage(ctx, entityID, afterVersion, p.pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, event := range page {
			if event.EntityVersion() != expectedNext {
				return nil, &eventcore.LogIntegrityError{
					EntityID: entityID,
					Reason:   fmt.Sprintf("expected version %d, got %d", expectedNext, event.EntityVersion()),
				}
			}
			if p.verifyHashChain {
				if err := verifyChainLink(event, previousDigest); err != nil {
					return nil, err
				}
				previousDigest = digestPayload(event)
			}
			state = p.mutator(state, event)
			expectedNext++
		}
		last := page[len(page)-1].EntityVersion()
		afterVersion = &last
		if p.pageSize == 0 {
			break
		}
	}

	if state == nil {
		return nil, &eventcore.EntityNotFoundError{EntityID: entityID}
	}
	return state, nil
}

func verifyChainLink(event eventcore.DomainEvent, expectedPrevious []byte) error {
	if expectedPrevious == nil {
		return nil // first event in the fold: nothing to verify against yet
	}
	raw, ok := event.Payload()[previousHashKey]
	if !ok {
		return &eventcore.LogIntegrityError{EntityID: event.EntityID(), Reason: "hash chain enabled but event carries no __previous_hash__"}
	}
	recorded, ok := raw.(string)
	if !ok {
		return &eventcore.LogIntegrityError{EntityID: event.EntityID(), Reason: "__previous_hash__ is not a string"}
	}
	recordedBytes, err := hex.DecodeString(recorded)
	if err != nil {
		return &eventcore.LogIntegrityError{EntityID: event.EntityID(), Reason: "__previous_hash__ is not valid hex"}
	}
	if subtle.ConstantTimeCompare(recordedBytes, expectedPrevious) != 1 {
		return &eventcore.LogIntegrityError{EntityID: event.EntityID(), Reason: "hash chain mismatch"}
	}
	return nil
}

// PreviousHashFor computes the __previous_hash__ value a domain author must
// attach to the event that follows event in its entity's chain, hex-encoded
// to match what verifyChainLink expects. A domain appending event N+1 after
// event N calls PreviousHashFor(eventN) and stores the result under
// previousHashKey in event N+1's payload before appending it; with
// WithHashChain(true), Rebuild then verifies that value against event N's
// own digest.
func PreviousHashFor(event eventcore.DomainEvent) string {
	return hex.EncodeToString(digestPayload(event))
}

// digestPayload computes the blake2b-256 digest of event's payload, used
// as the expected __previous_hash__ of the next event in the chain. The
// hash field itself is excluded so it is not self-referential.
func digestPayload(event eventcore.DomainEvent) []byte {
	payload := event.Payload()
	delete(payload, previousHashKey)
	sum := blake2b.Sum256([]byte(canonicalString(payload)))
	return sum[:]
}

// canonicalString renders payload deterministically for hashing. It does
// not need to be the transcoder's exact wire encoding — only stable and
// collision-resistant across two calls with equal maps — so it sorts keys
// itself rather than depending on transcode.
func canonicalString(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sortStrings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s=%v;", k, payload[k])
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
