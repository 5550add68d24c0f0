// Package apiserver exposes the REST API for ingesting sensor readings,
// querying detection results and driving training runs. It fronts the
// ingest pipeline and the store; all scoring decisions happen below it.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/driftwatch/internal/ingest"
	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/storage"
)

// ReadinessChecker is an interface for checking component readiness
type ReadinessChecker interface {
	IsReady() bool
}

// NoOpReadinessChecker is a ReadinessChecker that always returns true.
// Use this when no readiness gating is needed (e.g., when the model
// watcher runs in degraded mode without a model on disk).
type NoOpReadinessChecker struct{}

// IsReady always returns true for the no-op checker.
func (n *NoOpReadinessChecker) IsReady() bool {
	return true
}

// Config tunes the HTTP listener.
type Config struct {
	Port                  int
	MaxConcurrentRequests int
}

// Deps are the collaborators the server fronts. Store and Pipeline are
// required; the rest fall back to safe defaults.
type Deps struct {
	Store     storage.Store
	Pipeline  *ingest.Service
	Readiness ReadinessChecker
	Gatherer  prometheus.Gatherer
}

// Server handles HTTP API requests
type Server struct {
	port      int
	server    *http.Server
	router    *http.ServeMux
	logger    *logging.Logger
	store     storage.Store
	pipeline  *ingest.Service
	readiness ReadinessChecker
	gatherer  prometheus.Gatherer
	limiter   chan struct{}
}

// New creates the API server and wires up all routes and middleware.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 100
	}
	if deps.Readiness == nil {
		deps.Readiness = &NoOpReadinessChecker{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		port:      cfg.Port,
		router:    http.NewServeMux(),
		logger:    logging.GetLogger("api"),
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		readiness: deps.Readiness,
		gatherer:  deps.Gatherer,
		limiter:   make(chan struct{}, cfg.MaxConcurrentRequests),
	}

	// Register all routes and handlers
	s.registerHandlers()

	// Configure HTTP server with middleware and timeouts
	s.configureHTTPServer(cfg.Port)

	return s, nil
}

// configureHTTPServer creates the HTTP server with the middleware chain
// and appropriate timeouts
func (s *Server) configureHTTPServer(port int) {
	handler := s.corsMiddleware(s.requestIDMiddleware(s.limitMiddleware(s.router)))

	// Training runs synchronously inside POST /v1/train and can take
	// minutes on a large corpus, hence the generous write timeout.
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Start implements the lifecycle.Component interface
// Starts the HTTP server and begins listening for requests
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server on port %d", s.port)

	// Check context isn't already cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Start HTTP server in a goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	s.logger.Info("API server started and listening on port %d", s.port)
	return nil
}

// Stop implements the lifecycle.Component interface
// Gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")

	done := make(chan error, 1)
	go func() {
		// Gracefully shutdown server
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("HTTP server shutdown error: %v", err)
			return err
		}
		s.logger.Info("API server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("API server shutdown timeout")
		return ctx.Err()
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// handleReady handles readiness check requests. Readiness is gated on
// the wired checker; model presence is reported separately so callers
// can tell a degraded start from a fully serving instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.readiness != nil && s.readiness.IsReady()

	response := map[string]interface{}{
		"ready":        ready,
		"model_loaded": s.pipeline.Ready(),
	}
	if info, ok := s.pipeline.ModelInfo(); ok {
		response["model_version"] = info.Version
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeData(w, status, response)
}

// Handler returns the fully wired HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() int {
	return s.port
}

// Name implements the lifecycle.Component interface
// Returns the human-readable name of the API server component
func (s *Server) Name() string {
	return "API Server"
}
