// Command eventdemo wires the eventcore stack end to end: configuration,
// a Log backend, the transcoder and topic registry, the event store and
// bus, the persistence subscriber, the player, the snapshot service, and
// the opsapi introspection surface. It is a runnable reference wiring, not
// a deployable service in its own right.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go.eventcore.dev"
	"go.eventcore.dev/backend/resilience"
	"go.eventcore.dev/backend/sqlitebackend"
	"go.eventcore.dev/checkpoint"
	"go.eventcore.dev/config"
	"go.eventcore.dev/eventbus"
	"go.eventcore.dev/eventlog"
	"go.eventcore.dev/eventstore"
	"go.eventcore.dev/internal/obsmetrics"
	"go.eventcore.dev/notify/poller"
	"go.eventcore.dev/opsapi"
	"go.eventcore.dev/player"
	"go.eventcore.dev/snapshot"
	"go.eventcore.dev/topic"
	"go.eventcore.dev/transcode"
)

// widget is the sample entity this demo plays events into; a real
// deployment supplies its own eventcore.Mutator per entity type.
type widget struct {
	Name string
}

func mutateWidget(prev eventcore.Entity, event eventcore.DomainEvent) eventcore.Entity {
	switch event.Kind() {
	case "widget.Created", "widget.Renamed":
		name, _ := event.Payload()["name"].(string)
		return widget{Name: name}
	case "widget.Discarded":
		return nil
	}
	return prev
}

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("EVENTCORE_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.LoadWithFile()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(cfg.Backend)
	if err != nil {
		slog.Error("failed to initialize backend", "error", err)
		os.Exit(1)
	}
	backend = obsmetrics.Wrap(backend, cfg.Backend.Type)
	if cfg.Backend.CircuitBreakerEnabled {
		breakerCfg := resilience.DefaultConfig(cfg.Backend.Type)
		breakerCfg.MaxRequests = cfg.Backend.CircuitBreakerRequests
		breakerCfg.Ratio = cfg.Backend.CircuitBreakerRatio
		backend = resilience.Wrap(backend, breakerCfg)
	}

	registry := topic.NewRegistry()
	registry.Register("widget.Snapshot", widget{})
	transcoder := transcode.New().WithClassResolver(registry.TryTopicOf, registry.NewPointer)
	store := eventstore.New(backend, transcoder)

	if err := store.CreateTable(ctx); err != nil {
		slog.Error("failed to create log table", "error", err)
		os.Exit(1)
	}
	bus := eventbus.New()
	bus.SetObserver(func(kind eventcore.TypeDescriptor, d time.Duration, err error) {
		obsmetrics.ObserveHandler(string(kind), d, err)
	})

	persistence := eventbus.NewPersistenceSubscriber(bus, eventbus.AppenderFunc(func(event eventcore.DomainEvent) error {
		return store.Append(ctx, event)
	}))
	persistence.Open()
	defer persistence.Close()

	snapshots := snapshot.New(store)
	rebuilder := player.New(store, mutateWidget, player.WithPageSize(256), player.WithSnapshots(snapshots))

	checkpointStore := newCheckpointStore(cfg.Checkpoint)

	opsServer := opsapi.New().WithEventReader(store)
	opsServer.AddCheck(opsapi.BackendCheck(cfg.Backend.Type, func() error {
		_, err := backend.MaxNotificationID(ctx)
		return err
	}))
	opsServer.AddRebuilder(func(ctx context.Context, id eventcore.ID) (eventcore.Entity, error) {
		return rebuilder.Rebuild(ctx, id)
	})

	var notificationPoller *poller.Poller
	if cfg.Poller.EventsPerSecond > 0 {
		notificationPoller = poller.New(backend, checkpointStore, "eventdemo",
			cfg.Poller.EventsPerSecond, cfg.Poller.Burst,
			func(ctx context.Context, batch []eventcore.StoredEvent) error {
				slog.Info("observed notifications", "count", len(batch))
				return nil
			},
			poller.WithPageSize(cfg.Poller.PageSize),
		)
		notificationPoller.Start(ctx)
		defer notificationPoller.Stop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	opsServer.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		slog.Info("opsapi listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("opsapi server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newBackend(cfg config.BackendConfig) (eventlog.Backend, error) {
	switch cfg.Type {
	case "sqlite", "":
		return sqlitebackend.Open(cfg.SQLitePath)
	case "memory":
		return eventlog.NewMemoryBackend(), nil
	default:
		return sqlitebackend.Open(cfg.SQLitePath)
	}
}

func newCheckpointStore(cfg config.CheckpointConfig) checkpoint.Store {
	if cfg.Type == "redis" {
		store, err := checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
		if err == nil {
			return store
		}
		slog.Warn("redis checkpoint store unavailable, falling back to memory", "error", err)
	}
	return checkpoint.NewMemoryStore()
}
