// Package obsmetrics instruments eventcore's Log backend and event bus
// with Prometheus metrics and structured logging, generalizing the
// teacher's internal/common/repository.Instrument[T] generic wrapper from
// a single MongoDB repository to any eventlog.Backend and any
// eventbus.Handler.
package obsmetrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
)

var (
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventcore",
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Log backend operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "operation"},
	)

	backendOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "backend",
			Name:      "operations_total",
			Help:      "Total Log backend operations",
		},
		[]string{"backend", "operation", "result"},
	)

	backendOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "backend",
			Name:      "operation_errors_total",
			Help:      "Log backend operation errors by kind",
		},
		[]string{"backend", "operation", "error_kind"},
	)

	busHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventcore",
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Event bus handler dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	busHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventcore",
			Subsystem: "bus",
			Name:      "handler_errors_total",
			Help:      "Total event bus handler errors",
		},
		[]string{"topic"},
	)

	notificationLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventcore",
			Subsystem: "notify",
			Name:      "lag",
			Help:      "Difference between the backend's max notification id and a reader's checkpoint",
		},
		[]string{"reader"},
	)
)

// SlowOperationThreshold is the duration above which a backend operation
// is logged as slow, matching the teacher's repository.SlowQueryThreshold.
const SlowOperationThreshold = 100 * time.Millisecond

// Instrument wraps a Log backend operation with metrics and logging. It
// records duration, success/failure counts, and logs slow operations —
// the same shape as the teacher's generic Instrument[T], specialized to
// backend results instead of arbitrary repository results.
func Instrument[T any](ctx context.Context, backend, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	duration := time.Since(start)

	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())

	if err != nil {
		backendOperationTotal.WithLabelValues(backend, operation, "error").Inc()
		backendOperationErrors.WithLabelValues(backend, operation, classifyError(err)).Inc()
		slog.Error("log backend operation failed", "backend", backend, "operation", operation, "duration_ms", duration.Milliseconds(), "error", err)
	} else {
		backendOperationTotal.WithLabelValues(backend, operation, "success").Inc()
		if duration > SlowOperationThreshold {
			slog.Warn("slow log backend operation", "backend", backend, "operation", operation, "duration_ms", duration.Milliseconds())
		}
	}
	return result, err
}

func classifyError(err error) string {
	var conflict *eventcore.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		return "concurrency_conflict"
	}
	var backendErr *eventcore.BackendError
	if errors.As(err, &backendErr) {
		return "backend_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}

// Backend wraps an eventlog.Backend so every call is instrumented.
type Backend struct {
	inner eventlog.Backend
	name  string
}

// Wrap decorates inner, labeling its metrics and logs with name (e.g.
// "sqlite", "postgres", "mongo").
func Wrap(inner eventlog.Backend, name string) *Backend {
	return &Backend{inner: inner, name: name}
}

func (b *Backend) CreateTable(ctx context.Context) error {
	_, err := Instrument(ctx, b.name, "create_table", func() (struct{}, error) {
		return struct{}{}, b.inner.CreateTable(ctx)
	})
	return err
}

func (b *Backend) InsertEvents(ctx context.Context, batch []eventcore.StoredEvent) error {
	_, err := Instrument(ctx, b.name, "insert_events", func() (struct{}, error) {
		return struct{}{}, b.inner.InsertEvents(ctx, batch)
	})
	return err
}

func (b *Backend) SelectEvents(ctx context.Context, id eventcore.ID, gt, lte *uint64, limit uint64, desc bool) ([]eventcore.StoredEvent, error) {
	return Instrument(ctx, b.name, "select_events", func() ([]eventcore.StoredEvent, error) {
		return b.inner.SelectEvents(ctx, id, gt, lte, limit, desc)
	})
}

func (b *Backend) SelectNotifications(ctx context.Context, start, limit uint64) ([]eventcore.StoredEvent, error) {
	return Instrument(ctx, b.name, "select_notifications", func() ([]eventcore.StoredEvent, error) {
		return b.inner.SelectNotifications(ctx, start, limit)
	})
}

func (b *Backend) MaxNotificationID(ctx context.Context) (uint64, error) {
	return Instrument(ctx, b.name, "max_notification_id", func() (uint64, error) {
		return b.inner.MaxNotificationID(ctx)
	})
}

// ObserveHandler records a bus handler's dispatch duration and error count
// for the given topic.
func ObserveHandler(topic string, duration time.Duration, err error) {
	busHandlerDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err != nil {
		busHandlerErrors.WithLabelValues(topic).Inc()
	}
}

// SetNotificationLag records the distance between a reader's checkpoint
// and the backend's current notification high-water mark.
func SetNotificationLag(reader string, lag float64) {
	notificationLag.WithLabelValues(reader).Set(lag)
}

var _ eventlog.Backend = (*Backend)(nil)
