package opsapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"go.eventcore.dev"
	"go.eventcore.dev/eventlog"
	"go.eventcore.dev/eventstore"
	"go.eventcore.dev/opsapi"
	"go.eventcore.dev/player"
	"go.eventcore.dev/transcode"
)

func mutateName(prev eventcore.Entity, event eventcore.DomainEvent) eventcore.Entity {
	return map[string]any{"name": event.Payload()["name"]}
}

func newMux(t *testing.T, server *opsapi.Server) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	server.Mount(r)
	return r
}

func TestServer_HealthyReportsUp(t *testing.T) {
	server := opsapi.New()
	server.AddCheck(opsapi.BackendCheck("backend", func() error { return nil }))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"UP"`)
}

func TestServer_FailingCheckReportsDown(t *testing.T) {
	server := opsapi.New()
	server.AddCheck(opsapi.BackendCheck("backend", func() error { return errors.New("unreachable") }))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"DOWN"`)
}

func TestServer_EventsEndpointServesStoredEvents(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	id := eventcore.NewID()
	require.NoError(t, store.Append(ctx, eventcore.New(id, 0, "widget.Created", map[string]any{"name": "thing"}, time.Time{})))

	server := opsapi.New().WithEventReader(store)

	req := httptest.NewRequest(http.MethodGet, "/events/"+string(id), nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "thing")
}

func TestServer_EventsEndpointMissingEntityIs404(t *testing.T) {
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	server := opsapi.New().WithEventReader(store)

	req := httptest.NewRequest(http.MethodGet, "/events/"+string(eventcore.NewID()), nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_EntitiesEndpointServesFoldedState(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	id := eventcore.NewID()
	require.NoError(t, store.Append(ctx, eventcore.New(id, 0, "widget.Created", map[string]any{"name": "thing"}, time.Time{})))

	rebuilder := player.New(store, mutateName)
	server := opsapi.New()
	server.AddRebuilder(rebuilder.Rebuild)

	req := httptest.NewRequest(http.MethodGet, "/entities/"+string(id), nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "thing")
}

func TestServer_EntitiesEndpointMissingEntityIs404(t *testing.T) {
	store := eventstore.New(eventlog.NewMemoryBackend(), transcode.New())
	rebuilder := player.New(store, mutateName)
	server := opsapi.New()
	server.AddRebuilder(rebuilder.Rebuild)

	req := httptest.NewRequest(http.MethodGet, "/entities/"+string(eventcore.NewID()), nil)
	rec := httptest.NewRecorder()
	newMux(t, server).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
