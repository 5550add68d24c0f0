package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/moolen/driftwatch/internal/logging"
)

// corsMiddleware adds CORS headers to allow browser access
// For local dashboards only - allows all origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Continue with the next handler
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags every request with an ID and feeds it into
// the context logger so handler logs can be correlated with a single
// call. A caller-provided X-Request-ID is honored.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), logging.RequestIDKey(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitMiddleware caps the number of in-flight API requests. Probe and
// metrics endpoints stay exempt so an overloaded server still answers
// its health checks.
func (s *Server) limitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		select {
		case s.limiter <- struct{}{}:
			defer func() { <-s.limiter }()
			next.ServeHTTP(w, r)
		default:
			s.logger.Warn("Rejecting %s %s: %d requests already in flight", r.Method, r.URL.Path, cap(s.limiter))
			writeError(w, http.StatusServiceUnavailable, "OVERLOADED", "too many concurrent requests")
		}
	})
}

// withMethod wraps a handler to enforce HTTP method
func (s *Server) withMethod(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.handleMethodNotAllowed(w, r)
			return
		}
		handler(w, r)
	}
}
