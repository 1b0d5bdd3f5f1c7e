// Package sqlitebackend implements component D's Backend interface over a
// single SQLite file via database/sql and mattn/go-sqlite3, used as the
// zero-dependency local and test backend.
package sqlitebackend

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

// Backend is a SQLite-backed Log backend. SQLite only supports one writer
// at a time, so InsertEvents additionally serializes on a process-local
// mutex rather than relying on driver-level lock retries.
type Backend struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at dsn.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	return &Backend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) CreateTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	notification_id INTEGER PRIMARY KEY AUTOINCREMENT,
	originator_id TEXT NOT NULL,
	originator_version INTEGER NOT NULL,
	topic TEXT NOT NULL,
	state BLOB NOT NULL,
	UNIQUE (originator_id, originator_version)
);
CREATE INDEX IF NOT EXISTS idx_events_originator ON events (originator_id, originator_version);
`
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return &eventcore.BackendError{Op: "create_table", Err: err}
	}
	return nil
}

func (b *Backend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	if len(batch) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (originator_id, originator_version, topic, state) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, string(e.OriginatorID), e.OriginatorVersion, e.Topic, e.State); err != nil {
			if isUniqueViolation(err) {
				return &eventcore.ConcurrencyConflictError{EntityID: e.OriginatorID, Version: e.OriginatorVersion}
			}
			return &eventcore.BackendError{Op: "insert_events", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &eventcore.BackendError{Op: "insert_events", Err: err}
	}
	return nil
}

func (b *Backend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	query := `SELECT notification_id, originator_id, originator_version, topic, state FROM events WHERE originator_id = ?`
	args := []any{string(id)}
	if gt != nil {
		query += ` AND originator_version > ?`
		args = append(args, *gt)
	}
	if lte != nil {
		query += ` AND originator_version <= ?`
		args = append(args, *lte)
	}
	if desc {
		query += ` ORDER BY originator_version DESC`
	} else {
		query += ` ORDER BY originator_version ASC`
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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
	query := `SELECT notification_id, originator_id, originator_version, topic, state FROM events WHERE notification_id >= ? ORDER BY notification_id ASC`
	args := []any{start}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &eventcore.BackendError{Op: "select_notifications", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (b *Backend) MaxNotificationID(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	err := b.db.QueryRowContext(ctx, `SELECT MAX(notification_id) FROM events`).Scan(&max)
	if err != nil {
		return 0, &eventcore.BackendError{Op: "max_notification_id", Err: err}
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

func scanEvents(rows *sql.Rows) ([]eventcore.StoredEvent, error) {
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

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. mattn/go-sqlite3 surfaces these as *sqlite3.Error with
// ErrConstraintUnique, but matching on the message keeps this file free of
// the sqlite3.Error type so it still builds if the driver is swapped out
// for another database/sql driver against the same schema.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ eventlog.Backend = (*Backend)(nil)
