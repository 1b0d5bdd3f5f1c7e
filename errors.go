package eventcore

import "fmt"

// ConcurrencyConflictError is raised by a Log backend (surfaced through the
// event store) when a batch collides with an existing (originator_id,
// originator_version) pair. Retriable at the application layer.
type ConcurrencyConflictError struct {
	EntityID ID
	Version  uint64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("eventcore: concurrency conflict appending entity %q at version %d", e.EntityID, e.Version)
}

// TopicResolutionError is raised by the topic registry when a topic string
// cannot be resolved to a registered Go type. Unrecoverable without a code
// deployment that registers the missing topic.
type TopicResolutionError struct {
	Topic string
}

func (e *TopicResolutionError) Error() string {
	return fmt.Sprintf("eventcore: topic %q is not registered", e.Topic)
}

// EncoderTypeError is raised by the transcoder when no encoder is
// registered for a value encountered while encoding a payload.
type EncoderTypeError struct {
	GoType string
}

func (e *EncoderTypeError) Error() string {
	return fmt.Sprintf("eventcore: no encoder registered for type %s", e.GoType)
}

// EntityNotFoundError is raised by the player when an entity has no
// snapshot and no events, or was discarded by its mutator.
type EntityNotFoundError struct {
	EntityID ID
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("eventcore: entity %q not found", e.EntityID)
}

// LogIntegrityError is raised by the player on a version gap, a duplicate
// version, or a hash-chain mismatch during replay.
type LogIntegrityError struct {
	EntityID ID
	Reason   string
}

func (e *LogIntegrityError) Error() string {
	return fmt.Sprintf("eventcore: log integrity violation for entity %q: %s", e.EntityID, e.Reason)
}

// BackendError wraps a transport/IO/driver failure from a Log backend. The
// core never retries it.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("eventcore: backend error during %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
