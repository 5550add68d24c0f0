package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/models"
	"github.com/moolen/driftwatch/internal/storage"
)

// defaultStaleAfter is the freshness cutoff for the sensor status view
// when the caller does not provide one.
const defaultStaleAfter = time.Hour

// handleIngestReading accepts a sensor reading, persists it and schedules
// it for asynchronous scoring. Responds 202 since the anomaly verdict is
// not available yet.
func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	if err := s.pipeline.Ingest(r.Context(), &reading); err != nil {
		if models.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		s.logger.WithContext(r.Context()).Error("Failed to ingest reading: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to store reading")
		return
	}

	writeData(w, http.StatusAccepted, reading)
}

// handleListReadings returns readings matching the query filters.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since, err := parseTimeParam(q.Get("since"), "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	until, err := parseTimeParam(q.Get("until"), "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	limit, err := parseIntParam(q.Get("limit"), "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	offset, err := parseIntParam(q.Get("offset"), "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	onlyAnomalies, err := parseBoolParam(q.Get("only_anomalies"), "only_anomalies")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	filter := storage.ReadingFilter{
		SensorID:      q.Get("sensor_id"),
		SensorType:    q.Get("sensor_type"),
		Since:         since,
		Until:         until,
		OnlyAnomalies: onlyAnomalies != nil && *onlyAnomalies,
		Limit:         limit,
		Offset:        offset,
	}

	readings, err := s.store.ListReadings(r.Context(), filter)
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to list readings: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list readings")
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleSensorRoutes dispatches the per-sensor subroutes:
//
//	GET /v1/sensors/{id}/latest
//	GET /v1/sensors/{id}/score
func (s *Server) handleSensorRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sensors/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		s.handleNotFound(w, r)
		return
	}

	sensorID := parts[0]
	switch parts[1] {
	case "latest":
		s.withMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.handleLatestReading(w, r, sensorID)
		})(w, r)
	case "score":
		s.withMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.handleScoreSensor(w, r, sensorID)
		})(w, r)
	default:
		s.handleNotFound(w, r)
	}
}

// handleLatestReading returns a sensor's most recent reading.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request, sensorID string) {
	reading, err := s.store.LatestReading(r.Context(), sensorID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no readings for sensor %s", sensorID))
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to load latest reading for %s: %v", sensorID, err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load latest reading")
		return
	}

	writeData(w, http.StatusOK, reading)
}

// handleScoreSensor scores a sensor's current window on demand without
// persisting the verdict.
func (s *Server) handleScoreSensor(w http.ResponseWriter, r *http.Request, sensorID string) {
	verdict, err := s.pipeline.ScoreNow(r.Context(), sensorID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no readings for sensor %s", sensorID))
		return
	case errors.Is(err, anomaly.ErrModelNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "MODEL_NOT_LOADED", err.Error())
		return
	case err != nil:
		s.logger.WithContext(r.Context()).Error("Failed to score sensor %s: %v", sensorID, err)
		writeError(w, http.StatusInternalServerError, "SCORING_ERROR", "failed to score sensor")
		return
	}

	writeData(w, http.StatusOK, verdict)
}

// handleSensorStatuses summarizes every known sensor's latest activity.
// stale_after accepts a Go duration and defaults to one hour.
func (s *Server) handleSensorStatuses(w http.ResponseWriter, r *http.Request) {
	staleAfter := defaultStaleAfter
	if v := r.URL.Query().Get("stale_after"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "stale_after must be a positive duration, e.g. 30m")
			return
		}
		staleAfter = d
	}

	statuses, err := s.store.SensorStatuses(r.Context(), staleAfter)
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to load sensor statuses: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load sensor statuses")
		return
	}
	if statuses == nil {
		statuses = []models.SensorStatus{}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"sensors": statuses,
		"count":   len(statuses),
	})
}

// handleListAlerts returns alerts matching the query filters, newest
// first.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	severity := models.Severity(q.Get("severity"))
	if severity != "" && !severity.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "severity must be one of low, medium, high, critical")
		return
	}
	resolved, err := parseBoolParam(q.Get("resolved"), "resolved")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	limit, err := parseIntParam(q.Get("limit"), "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	offset, err := parseIntParam(q.Get("offset"), "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	filter := storage.AlertFilter{
		SensorID: q.Get("sensor_id"),
		Severity: severity,
		Resolved: resolved,
		Limit:    limit,
		Offset:   offset,
	}

	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to list alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleResolveAlert marks an alert as resolved:
//
//	POST /v1/alerts/{id}/resolve
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/alerts/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "resolve" {
		s.handleNotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "alert id must be an integer")
		return
	}

	alert, err := s.store.ResolveAlert(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no alert with id %d", id))
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to resolve alert %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to resolve alert")
		return
	}

	writeData(w, http.StatusOK, alert)
}

// handleTrain runs a training pass over the labeled corpus and swaps in
// the new model if it clears the quality gate.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	s.logger.WithContext(r.Context()).Info("Training run requested via API")

	model, err := s.pipeline.Train(r.Context())

	var corpusErr *anomaly.CorpusError
	var gateErr *anomaly.QualityGateError
	switch {
	case errors.As(err, &corpusErr):
		writeError(w, http.StatusUnprocessableEntity, "CORPUS_ERROR", err.Error())
		return
	case errors.As(err, &gateErr):
		writeError(w, http.StatusUnprocessableEntity, "QUALITY_GATE_FAILED", err.Error())
		return
	case err != nil:
		s.logger.WithContext(r.Context()).Error("Training run failed: %v", err)
		writeError(w, http.StatusInternalServerError, "TRAINING_ERROR", "training run failed")
		return
	}

	writeData(w, http.StatusOK, model.Info())
}

// handleModel returns metadata about the currently serving model.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	info, ok := s.pipeline.ModelInfo()
	if !ok {
		writeError(w, http.StatusNotFound, "MODEL_NOT_LOADED", "no trained model loaded")
		return
	}

	writeData(w, http.StatusOK, info)
}

// handleStats returns aggregate row counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.WithContext(r.Context()).Error("Failed to load stats: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load stats")
		return
	}

	writeData(w, http.StatusOK, stats)
}
