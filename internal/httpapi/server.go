// Package httpapi serves the read-only run API: health, the latest run
// snapshot and Prometheus metrics. It never triggers a scan; the serve
// command pairs it with a completed run or a snapshot store.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/metrics"
	"github.com/sawpanic/trendscan/internal/report"
)

// SnapshotProvider yields the most recent run snapshot.
type SnapshotProvider interface {
	Latest(ctx context.Context) (report.Snapshot, bool, error)
}

// HealthChecker is anything whose liveness the /healthz endpoint reports.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds server listen settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig listens on localhost only.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only HTTP API.
type Server struct {
	router    *mux.Router
	server    *http.Server
	snapshots SnapshotProvider
	checks    map[string]HealthChecker
	metrics   *metrics.Set
	log       zerolog.Logger
}

// New builds the server. Metrics may be nil; checks may be empty.
func New(cfg Config, snapshots SnapshotProvider, checks map[string]HealthChecker, m *metrics.Set, log zerolog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		snapshots: snapshots,
		checks:    checks,
		metrics:   m,
		log:       log.With().Str("component", "httpapi").Logger(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID)
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http api listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for name, c := range s.checks {
		if err := c.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.snapshots.Latest(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot lookup failed"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run recorded yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// MemorySnapshots is an in-process SnapshotProvider for serve-after-scan
// mode, where the latest run lives in memory rather than Postgres.
type MemorySnapshots struct {
	snap report.Snapshot
	ok   bool
}

// NewMemorySnapshots wraps an already computed snapshot.
func NewMemorySnapshots(snap report.Snapshot) *MemorySnapshots {
	return &MemorySnapshots{snap: snap, ok: true}
}

func (m *MemorySnapshots) Latest(_ context.Context) (report.Snapshot, bool, error) {
	return m.snap, m.ok, nil
}
