// Package resilience decorates a Log backend with a circuit breaker,
// grounded in the teacher's HTTPMediator (internal/router/mediator/http.go),
// generalized from "protect an outbound webhook call" to "protect an
// outbound storage call".
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

// Config mirrors the teacher's HTTPMediatorConfig circuit breaker knobs.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    uint64 // seconds; zero disables the rolling window reset
	Timeout     uint64 // seconds in the open state before half-open
	MinRequests uint32
	Ratio       float64
}

// DefaultConfig mirrors the teacher's DefaultHTTPMediatorConfig tuning.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 10,
		Interval:    60,
		Timeout:     5,
		MinRequests: 10,
		Ratio:       0.5,
	}
}

// Backend wraps an eventlog.Backend so that every call to the underlying
// storage trips a circuit breaker after a run of failures, shedding load
// off it instead of letting a struggling database queue up retries.
type Backend struct {
	inner   eventlog.Backend
	breaker *gobreaker.CircuitBreaker
}

// Wrap decorates inner with a circuit breaker configured by cfg.
func Wrap(inner eventlog.Backend, cfg Config) *Backend {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.Ratio
		},
		IsSuccessful: func(err error) bool {
			var conflict *eventcore.ConcurrencyConflictError
			return err == nil || errors.As(err, &conflict)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("log backend circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Backend{inner: inner, breaker: breaker}
}

func (b *Backend) CreateTable(ctx context.Context) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.inner.CreateTable(ctx)
	})
	return unwrapBreakerError(err)
}

func (b *Backend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.inner.InsertEvents(ctx, batch)
	})
	return unwrapBreakerError(err)
}

func (b *Backend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.SelectEvents(ctx, id, gt, lte, limit, desc)
	})
	if err != nil {
		return nil, unwrapBreakerError(err)
	}
	return result.([]eventcore.StoredEvent), nil
}

func (b *Backend) SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.SelectNotifications(ctx, start, limit)
	})
	if err != nil {
		return nil, unwrapBreakerError(err)
	}
	return result.([]eventcore.StoredEvent), nil
}

func (b *Backend) MaxNotificationID(ctx context.Context) (uint64, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.MaxNotificationID(ctx)
	})
	if err != nil {
		return 0, unwrapBreakerError(err)
	}
	return result.(uint64), nil
}

// unwrapBreakerError passes a *eventcore.ConcurrencyConflictError through
// untouched (it is an expected outcome, not a backend failure, and must
// not count against the breaker's failure ratio or be masked as one), and
// wraps everything else including gobreaker's own ErrOpenState /
// ErrTooManyRequests as a *eventcore.BackendError.
func unwrapBreakerError(err error) error {
	if err == nil {
		return nil
	}
	var conflict *eventcore.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return &eventcore.BackendError{Op: "circuit_breaker", Err: err}
}

var _ eventlog.Backend = (*Backend)(nil)
