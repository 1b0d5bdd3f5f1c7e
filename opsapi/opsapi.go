// Package opsapi provides a small HTTP introspection surface for operating
// a deployed eventcore backend: liveness/readiness, Prometheus metrics, and
// a read-only entity event stream. Grounded in the teacher's
// internal/common/health.Checker (the liveness/readiness model) and
// internal/router/api + internal/router/warning's chi.Router registration
// idiom. Entirely optional: nothing in eventcore's core interfaces depends
// on this package.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.eventcore.dev"
)

// Status is a component's up/down state, matching the teacher's
// health.Status vocabulary.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check is one named component's health result.
type Check struct {
	Name string `json:"name"`
	Status Status `json:"status"`
	Error string `json:"error,omitempty"`
}

// CheckFunc probes one dependency (a Log backend, a checkpoint store, a
// relay connection) and reports its Check.
type CheckFunc func() Check

// Rebuilder folds an entity's event stream into its current state, the
// shape of *player.Player.Rebuild.
type Rebuilder func(ctx context.Context, entityID eventcore.ID) (eventcore.Entity, error)

// eventReader is the slice of eventstore.Store that the /events/{entityID}
// endpoint needs; narrowed so opsapi never imports eventstore's full
// surface or creates an import cycle.
type eventReader interface {
	GetEvents(ctx context.Context, entityID eventcore.ID, afterVersion *uint64) ([]eventcore.DomainEvent, error)
}

// Server wires health checks, Prometheus metrics, and an entity event
// viewer onto a chi.Router.
type Server struct {
	checks    []CheckFunc
	reader    eventReader
	rebuilder Rebuilder
}

// New returns a Server with no checks registered and no entity reader
// wired; use AddCheck and WithEventReader to attach them.
func New() *Server {
	return &Server{}
}

// AddCheck registers a dependency probe run on every /healthz request.
func (s *Server) AddCheck(check CheckFunc) {
	s.checks = append(s.checks, check)
}

// WithEventReader attaches a Log/event-store reader so /events/{entityID}
// can serve a stored entity's events. Returns s for chaining.
func (s *Server) WithEventReader(reader eventReader) *Server {
	s.reader = reader
	return s
}

// AddRebuilder attaches a Player's Rebuild so /entities/{entityID} can
// serve an entity's current folded state instead of its raw events.
func (s *Server) AddRebuilder(rebuilder Rebuilder) {
	s.rebuilder = rebuilder
}

// Mount registers the ops endpoints on r: CORS-wrapped /healthz, /metrics,
// and (when an event reader is attached) /events/{entityID}.
func (s *Server) Mount(r chi.Router) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/healthz/live", s.handleLive)
	r.Handle("/metrics", promhttp.Handler())
	if s.reader != nil {
		r.Get("/events/{entityID}", s.handleEvents)
	}
	if s.rebuilder != nil {
		r.Get("/entities/{entityID}", s.handleEntity)
	}
}

type healthResponse struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

func (s *Server) runChecks() healthResponse {
	resp := healthResponse{Status: StatusUp, Checks: make([]Check, 0, len(s.checks))}
	for _, check := range s.checks {
		result := check()
		resp.Checks = append(resp.Checks, result)
		if result.Status == StatusDown {
			resp.Status = StatusDown
		}
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.runChecks()
	status := http.StatusOK
	if resp.Status == StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleLive always reports up: liveness answers "is the process alive",
// not "are its dependencies healthy" (that's /healthz).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: StatusUp})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := eventcore.ID(chi.URLParam(r, "entityID"))
	events, err := s.reader.GetEvents(r.Context(), id, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	// DomainEvent's fields are unexported, so render each one explicitly.
	type eventView struct {
		EntityID      eventcore.ID             `json:"entity_id"`
		EntityVersion uint64                   `json:"entity_version"`
		Kind          eventcore.TypeDescriptor `json:"kind"`
		Timestamp     time.Time                `json:"timestamp"`
		Payload       map[string]any           `json:"payload"`
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventView{e.EntityID(), e.EntityVersion(), e.Kind(), e.Timestamp(), e.Payload()}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := eventcore.ID(chi.URLParam(r, "entityID"))
	entity, err := s.rebuilder(r.Context(), id)
	if err != nil {
		var notFound *eventcore.EntityNotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BackendCheck adapts a named up/down probe function into a CheckFunc,
// matching the teacher's AddLivenessCheck/AddReadinessCheck closures.
func BackendCheck(name string, probe func() error) CheckFunc {
	return func() Check {
		if err := probe(); err != nil {
			return Check{Name: name, Status: StatusDown, Error: err.Error()}
		}
		return Check{Name: name, Status: StatusUp}
	}
}
