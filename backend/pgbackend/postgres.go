// Package pgbackend implements component D's Backend interface over
// PostgreSQL via jackc/pgx/v5's pgxpool, the teacher's choice of driver
// style for its other SQL-backed stores, generalized to a single
// notification-indexed events table.
package pgbackend

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

// Backend is a PostgreSQL-backed Log backend. A bare identity/sequence
// column cannot satisfy the gap-free notification index on its own: a
// sequence advances outside the enclosing transaction, so a rolled-back
// insert (e.g. on a (originator_id, originator_version) conflict) burns the
// id permanently, and under concurrent transactions nothing stops id N+1
// from committing before id N, letting a reader observe a gap. Instead,
// notification_id is assigned from a counter row read with
// "SELECT ... FOR UPDATE" inside the same transaction as the batch insert:
// the row lock serializes concurrent InsertEvents calls (the second
// blocks until the first commits or rolls back), and because the counter
// update shares the transaction with the insert, a rollback undoes both
// together, so no id is ever consumed without a corresponding committed
// row.
type Backend struct {
	pool *pgxpool.Pool
}

// counterKey names the single row in notification_counters this backend
// allocates ids from. One events table, one counter.
const counterKey = "events"

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

func (b *Backend) CreateTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	notification_id BIGINT PRIMARY KEY,
	originator_id TEXT NOT NULL,
	originator_version BIGINT NOT NULL,
	topic TEXT NOT NULL,
	state BYTEA NOT NULL,
	UNIQUE (originator_id, originator_version)
);
CREATE INDEX IF NOT EXISTS idx_events_originator ON events (originator_id, originator_version);
CREATE TABLE IF NOT EXISTS notification_counters (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);
`
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return &eventcore.BackendError{Op: "create_table", Err: err}
	}
	if _, err := b.pool.Exec(ctx,
		`INSERT INTO notification_counters (name, value) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`,
		counterKey,
	); err != nil {
		return &eventcore.BackendError{Op: "create_table", Err: err}
	}
	return nil
}

func (b *Backend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Locks the counter row for the rest of this transaction: any other
	// InsertEvents call blocks here until this one commits or rolls back,
	// which is what keeps commit order equal to id-assignment order.
	var next uint64
	if err := tx.QueryRow(ctx,
		`SELECT value FROM notification_counters WHERE name = $1 FOR UPDATE`,
		counterKey,
	).Scan(&next); err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	next++

	for i := range batch {
		e := &batch[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (notification_id, originator_id, originator_version, topic, state) VALUES ($1, $2, $3, $4, $5)`,
			next, string(e.OriginatorID), e.OriginatorVersion, e.Topic, e.State,
		); err != nil {
			if isUniqueViolation(err) {
				return &eventcore.ConcurrencyConflictError{EntityID: e.OriginatorID, Version: e.OriginatorVersion}
			}
			return &eventcore.BackendError{Op: "insert_events", Err: err}
		}
		next++
	}

	if _, err := tx.Exec(ctx,
		`UPDATE notification_counters SET value = $1 WHERE name = $2`,
		next-1, counterKey,
	); err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	return nil
}

func (b *Backend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	query := `SELECT notification_id, originator_id, originator_version, topic, state FROM events WHERE originator_id = $1`
	args := []any{string(id)}
	argN := 2
	if gt != nil {
		query += pgPlaceholder(" AND originator_version > ", &argN)
		args = append(args, *gt)
	}
	if lte != nil {
		query += pgPlaceholder(" AND originator_version <= ", &argN)
		args = append(args, *lte)
	}
	if desc {
		query += ` ORDER BY originator_version DESC`
	} else {
		query += ` ORDER BY originator_version ASC`
	}
	if limit > 0 {
		query += pgPlaceholder(" LIMIT ", &argN)
		args = append(args, limit)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "select_events", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (b *Backend) SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error) {
	if start == 0 {
		start = 1
	}
	query := `SELECT notification_id, originator_id, originator_version, topic, state FROM events WHERE notification_id >= $1 ORDER BY notification_id ASC`
	args := []any{start}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "select_notifications", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (b *Backend) MaxNotificationID(ctx context.Context) (uint64, error) {
	var max *int64
	if err := b.pool.QueryRow(ctx, `SELECT MAX(notification_id) FROM events`).Scan(&max); err != nil {
		return 0, &eventcore.BackendError{Op: "max_notification_id", Err: err}
	}
	if max == nil {
		return 0, nil
	}
	return uint64(*max), nil
}

func scanEvents(rows pgx.Rows) ([]eventcore.StoredEvent, error) {
	var out []eventcore.StoredEvent
	for rows.Next() {
		var e eventcore.StoredEvent
		var originatorID string
		if err := rows.Scan(&e.NotificationID, &originatorID, &e.OriginatorVersion, &e.Topic, &e.State); err != nil {
			return nil, &eventcore.BackendError{Op: "scan_event", Err: err}
		}
		e.OriginatorID = eventcore.ID(originatorID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &eventcore.BackendError{Op: "scan_events", Err: err}
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// pgPlaceholder renders a clause with the next $N placeholder and advances
// the running argument counter.
func pgPlaceholder(clausePrefix string, argN *int) string {
	n := *argN
	*argN++
	return clausePrefix + "$" + strconv.Itoa(n)
}

var _ eventlog.Backend = (*Backend)(nil)
