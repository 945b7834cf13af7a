// Package server exposes the simulation platform over HTTP: persona
// generation, test run control, live run observation over WebSocket, and
// prompt version management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/svarunid/voiceflow/enhancer"
	"github.com/svarunid/voiceflow/livechannel"
	"github.com/svarunid/voiceflow/persona"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/simulator"
	"github.com/svarunid/voiceflow/store"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	defaultReadTimeout = 30 * time.Second

	// defaultIdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxBodySize is the maximum allowed size of a request body (1 MB).
	defaultMaxBodySize int64 = 1 << 20

	// wsWriteTimeout bounds a single WebSocket frame write.
	wsWriteTimeout = 10 * time.Second
)

// Option configures a [Server].
type Option func(*Server)

// WithPort sets the TCP port for ListenAndServe.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithMaxBodySize sets the maximum allowed request body size in bytes.
// Default: 1 MB.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// Deps carries the collaborators the server fronts.
type Deps struct {
	Personas store.PersonaStore
	Runs     store.RunStore
	Versions store.VersionStore

	Generator *persona.Generator
	Simulator *simulator.Simulator
	Enhancer  *enhancer.Enhancer
	Channels  *livechannel.Registry
}

// Server is the HTTP front of the simulation platform.
type Server struct {
	personas  store.PersonaStore
	runs      store.RunStore
	versions  store.VersionStore
	generator *persona.Generator
	sim       *simulator.Simulator
	enhancer  *enhancer.Enhancer
	channels  *livechannel.Registry

	port        int
	maxBodySize int64
	upgrader    websocket.Upgrader

	httpSrv   *http.Server
	httpSrvMu sync.Mutex
}

// New creates a server over its collaborators.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		personas:    deps.Personas,
		runs:        deps.Runs,
		versions:    deps.Versions,
		generator:   deps.Generator,
		sim:         deps.Simulator,
		enhancer:    deps.Enhancer,
		channels:    deps.Channels,
		maxBodySize: defaultMaxBodySize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the server's http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/personas/generate", s.handleGeneratePersona)
	mux.HandleFunc("GET /v1/personas", s.handleListPersonas)
	mux.HandleFunc("GET /v1/personas/{id}", s.handleGetPersona)

	mux.HandleFunc("POST /v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /v1/runs/{id}/stop", s.handleStopRun)
	mux.HandleFunc("GET /v1/runs/{id}/ws", s.handleAttachRun)

	mux.HandleFunc("GET /v1/prompts", s.handleListVersions)
	mux.HandleFunc("POST /v1/prompts", s.handleCreateVersion)
	mux.HandleFunc("GET /v1/prompts/pinned", s.handleGetPinned)
	mux.HandleFunc("GET /v1/prompts/{version}", s.handleGetVersion)
	mux.HandleFunc("POST /v1/prompts/{version}/pin", s.handlePinVersion)
	mux.HandleFunc("POST /v1/prompts/enhance", s.handleEnhance)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return otelhttp.NewHandler(mux, "voiceflow-server")
}

// ListenAndServe starts the HTTP server on the configured port.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.Serve(ln)
}

// Shutdown gracefully drains HTTP requests and waits for active runs to
// reach a terminal state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	s.sim.Wait()
	return err
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON error envelope returned by every endpoint.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its HTTP status and writes the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps domain errors to HTTP statuses. Precondition and conflict
// failures are the caller's to resolve; generation failures are upstream.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrNoPinnedVersion),
		errors.Is(err, livechannel.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, livechannel.ErrObserverAttached),
		errors.Is(err, simulator.ErrRunNotActive):
		return http.StatusConflict
	case errors.Is(err, enhancer.ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidID),
		errors.Is(err, simulator.ErrInvalidBudget):
		return http.StatusBadRequest
	case providers.IsGenerationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a bounded JSON request body into v.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
