package models

import (
	"time"
)

// Reading is a single measurement reported by a sensor. ID and CreatedAt are
// assigned by the store; IsAnomaly and AnomalyScore are filled in by the
// detection pipeline after the reading has been scored.
type Reading struct {
	ID           int64     `json:"id,omitempty" db:"id"`
	SensorID     string    `json:"sensor_id" db:"sensor_id"`
	SensorType   string    `json:"sensor_type" db:"sensor_type"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Value        float64   `json:"value" db:"value"`
	Unit         string    `json:"unit" db:"unit"`
	Location     string    `json:"location,omitempty" db:"location"`
	IsAnomaly    bool      `json:"is_anomaly" db:"is_anomaly"`
	AnomalyScore float64   `json:"anomaly_score" db:"anomaly_score"`
	CreatedAt    time.Time `json:"created_at,omitempty" db:"created_at"`
}

// Validate checks the fields a producer must supply. Zero timestamps are
// rejected rather than defaulted so that out-of-order ingestion bugs surface
// at the boundary instead of corrupting windows.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return NewValidationError("sensor_id must not be empty")
	}
	if r.SensorType == "" {
		return NewValidationError("sensor_type must not be empty")
	}
	if r.Timestamp.IsZero() {
		return NewValidationError("timestamp must be set")
	}
	return nil
}

// LabeledReading pairs a reading with its ground-truth anomaly label for
// training corpora. The JSON form is the corpus file format shared by
// the gendata and train commands.
type LabeledReading struct {
	Reading Reading `json:"reading"`
	Label   bool    `json:"label"`
}

// SensorStatus summarizes the most recent activity of one sensor.
type SensorStatus struct {
	SensorID    string    `json:"sensor_id"`
	SensorType  string    `json:"sensor_type"`
	LastSeen    time.Time `json:"last_seen"`
	LastValue   float64   `json:"last_value"`
	Unit        string    `json:"unit"`
	Stale       bool      `json:"stale"`
	AnomalyRate float64   `json:"anomaly_rate"`
}
