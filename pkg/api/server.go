package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/litoral-labs/micdta/pkg/export"
	"github.com/litoral-labs/micdta/pkg/geofence"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/query"
	"github.com/litoral-labs/micdta/pkg/reset"
)

// Server exposes the gateway over HTTP.
type Server struct {
	facade   *query.Facade
	exec     *orchestrator.Orchestrator
	resets   *reset.Service
	engine   *geofence.Engine
	exporter *export.Exporter
	logger   *slog.Logger
}

// ServerOption configures optional server surfaces.
type ServerOption func(*Server)

// WithPositionEngine enables the position ingestion endpoint.
func WithPositionEngine(e *geofence.Engine) ServerOption {
	return func(s *Server) { s.engine = e }
}

// WithExporter enables the evidence bundle endpoint.
func WithExporter(e *export.Exporter) ServerOption {
	return func(s *Server) { s.exporter = e }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer wires the HTTP surface. engine and exporter are optional;
// their endpoints answer 404 until configured.
func NewServer(facade *query.Facade, exec *orchestrator.Orchestrator, resets *reset.Service, opts ...ServerOption) *Server {
	s := &Server{
		facade: facade,
		exec:   exec,
		resets: resets,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the route table without middleware applied.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/voyages/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/voyages/{id}/preview", s.handlePreview)
	mux.HandleFunc("POST /v1/voyages/{id}/reset", s.handleReset)

	mux.HandleFunc("GET /v1/voyages/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/voyages/{id}/validate", s.handleValidate)
	mux.HandleFunc("GET /v1/voyages/{id}/activity", s.handleActivity)
	mux.HandleFunc("GET /v1/voyages/{id}/tracks", s.handleTracks)

	mux.HandleFunc("POST /v1/voyages/{id}/positions", s.handleIngestPosition)
	mux.HandleFunc("GET /v1/voyages/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /v1/voyages/{id}/positions/stats", s.handlePositionStats)
	mux.HandleFunc("GET /v1/control-points", s.handleControlPoints)

	mux.HandleFunc("POST /v1/voyages/{id}/export", s.handleExport)

	return mux
}

// Handler wraps the route table with the standard middleware chain.
// rl and replays may be nil to skip rate limiting or idempotent
// replay.
func (s *Server) Handler(rl *GlobalRateLimiter, replays ReplayCache) http.Handler {
	var h http.Handler = s.Routes()
	if replays != nil {
		h = ReplayMiddleware(replays)(h)
	}
	if rl != nil {
		h = rl.Middleware(h)
	}
	h = Actor(h)
	h = RequestID(h)
	return h
}

// NewHTTPServer returns an http.Server with production timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
