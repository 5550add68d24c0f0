package apiserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerHandlers registers all HTTP handlers
func (s *Server) registerHandlers() {
	s.registerSensorHandlers()
	s.registerAlertHandlers()
	s.registerModelHandlers()
	s.registerOpsEndpoints()
}

// registerSensorHandlers registers the reading ingestion and query routes
func (s *Server) registerSensorHandlers() {
	s.router.HandleFunc("/v1/sensors/data", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleIngestReading(w, r)
		case http.MethodGet:
			s.handleListReadings(w, r)
		default:
			s.handleMethodNotAllowed(w, r)
		}
	})

	// Exact patterns win over the trailing-slash prefix, so /status does
	// not collide with the per-sensor subroutes below.
	s.router.HandleFunc("/v1/sensors/status", s.withMethod(http.MethodGet, s.handleSensorStatuses))
	s.router.HandleFunc("/v1/sensors/", s.handleSensorRoutes)
}

// registerAlertHandlers registers the alert listing and resolution routes
func (s *Server) registerAlertHandlers() {
	s.router.HandleFunc("/v1/alerts", s.withMethod(http.MethodGet, s.handleListAlerts))
	s.router.HandleFunc("/v1/alerts/", s.withMethod(http.MethodPost, s.handleResolveAlert))
}

// registerModelHandlers registers the training and model info routes
func (s *Server) registerModelHandlers() {
	s.router.HandleFunc("/v1/train", s.withMethod(http.MethodPost, s.handleTrain))
	s.router.HandleFunc("/v1/model", s.withMethod(http.MethodGet, s.handleModel))
}

// registerOpsEndpoints registers stats, health, readiness and metrics
func (s *Server) registerOpsEndpoints() {
	s.router.HandleFunc("/v1/stats", s.withMethod(http.MethodGet, s.handleStats))
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}
