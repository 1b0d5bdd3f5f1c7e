// Package poller implements a continuous, rate-limited scan of a Log
// backend's notification index (spec.md §4.D's select_notifications),
// delivering new records to a callback and persisting progress through a
// checkpoint.Store so a restart resumes instead of re-scanning from the
// start. Grounded in the teacher's internal/stream.Watcher: a run/stop
// lifecycle, a reconnect-style retry loop with exponential backoff on
// backend errors, and atomic counters exposed for introspection.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"go.eventcore.dev"
	"go.eventcore.dev/checkpoint"
)

// notificationSource is the subset of eventlog.Backend the poller needs.
type notificationSource interface {
	SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error)
}

// Handler processes one notification batch. Returning an error stops the
// current scan iteration without advancing the checkpoint, so the same
// batch is retried on the next poll.
type Handler func(ctx context.Context, batch []eventcore.StoredEvent) error

const (
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2.0
)

// Poller continuously scans notificationSource for records past the
// checkpoint, rate-limited so it never busy-loops a backend with no new
// work.
type Poller struct {
	source     notificationSource
	checkpoint checkpoint.Store
	key        string
	handler    Handler
	limiter    *rate.Limiter
	pageSize   uint64

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	scans      atomic.Int64
	lastError  atomic.Value // error
	lastNotfID atomic.Uint64
}

// Option configures a Poller.
type Option func(*Poller)

// WithPageSize bounds how many notifications are fetched per scan.
func WithPageSize(pageSize uint64) Option {
	return func(p *Poller) { p.pageSize = pageSize }
}

// New returns a Poller that scans source for notifications past key's
// checkpoint in store, rate-limited to eventsPerSecond with the given
// burst, invoking handler for each non-empty batch.
func New(source notificationSource, store checkpoint.Store, key string, eventsPerSecond float64, burst int, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		source:     source,
		checkpoint: store,
		key:        key,
		handler:    handler,
		limiter:    rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling in a background goroutine. A second call while
// already running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.runningMu.Lock()
	if p.running {
		p.runningMu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.runningMu.Unlock()

	p.wg.Add(1)
	go p.loop(runCtx)
}

// Stop halts the background goroutine and waits for it to exit.
func (p *Poller) Stop() {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.runningMu.Unlock()

	cancel()
	p.wg.Wait()
}

// IsRunning reports whether the poller's background goroutine is active.
func (p *Poller) IsRunning() bool {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	return p.running
}

// Scans returns the number of scan iterations performed so far.
func (p *Poller) Scans() int64 { return p.scans.Load() }

// LastError returns the most recent scan error, or nil.
func (p *Poller) LastError() error {
	if err := p.lastError.Load(); err != nil {
		return err.(error)
	}
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	backoff := initialBackoff
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return // context canceled
		}

		advanced, err := p.scanOnce(ctx)
		p.scans.Add(1)
		if err != nil {
			p.lastError.Store(err)
			slog.Warn("poller scan failed, backing off", "key", p.key, "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * backoffMultiplier)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff
		if !advanced {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// scanOnce fetches one page of notifications past the checkpoint, invokes
// handler, and advances the checkpoint. Returns whether any records were
// found.
func (p *Poller) scanOnce(ctx context.Context) (bool, error) {
	start := uint64(1)
	if last, ok, err := p.checkpoint.GetCheckpoint(ctx, p.key); err != nil {
		return false, err
	} else if ok {
		start = last + 1
	}

	batch, err := p.source.SelectNotifications(ctx, start, p.pageSize)
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		return false, nil
	}

	if p.handler != nil {
		if err := p.handler(ctx, batch); err != nil {
			return false, err
		}
	}

	last := batch[len(batch)-1].NotificationID
	if err := p.checkpoint.SaveCheckpoint(ctx, p.key, last); err != nil {
		return false, err
	}
	p.lastNotfID.Store(last)
	return true, nil
}
