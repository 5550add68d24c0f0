// Package storage persists sensor readings and anomaly alerts. The Store
// interface is implemented by Postgres for deployments and by an
// in-memory store for single-node use and tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/moolen/driftwatch/internal/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ReadingFilter narrows ListReadings. Zero values mean "any".
type ReadingFilter struct {
	SensorID      string
	SensorType    string
	Since         time.Time
	Until         time.Time
	OnlyAnomalies bool
	Limit         int
	Offset        int
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	SensorID string
	Severity models.Severity
	Resolved *bool
	Limit    int
	Offset   int
}

// Stats are aggregate row counts for the monitoring surface.
type Stats struct {
	TotalReadings    int64 `json:"total_readings"`
	TotalAnomalies   int64 `json:"total_anomalies"`
	TotalAlerts      int64 `json:"total_alerts"`
	UnresolvedAlerts int64 `json:"unresolved_alerts"`
	Sensors          int64 `json:"sensors"`
}

// DefaultListLimit bounds list queries when the caller does not.
const DefaultListLimit = 100

// Store is the persistence boundary for readings and alerts.
//
// All reads that return multiple readings order them chronologically,
// oldest first, so callers can feed them to the detection pipeline
// directly. Implementations must be safe for concurrent use.
type Store interface {
	// SaveReading inserts a reading and fills in its ID and CreatedAt.
	SaveReading(ctx context.Context, reading *models.Reading) error

	// UpdateReadingAnomaly records the detection outcome for a reading.
	UpdateReadingAnomaly(ctx context.Context, id int64, isAnomaly bool, score float64) error

	// LoadWindow returns the readings of one sensor since the given time,
	// oldest first. Used to rehydrate in-memory windows.
	LoadWindow(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error)

	// ListReadings returns readings matching the filter, oldest first.
	ListReadings(ctx context.Context, filter ReadingFilter) ([]models.Reading, error)

	// LatestReading returns a sensor's most recent reading or ErrNotFound.
	LatestReading(ctx context.Context, sensorID string) (*models.Reading, error)

	// SaveAlert inserts an alert and fills in its ID.
	SaveAlert(ctx context.Context, alert *models.Alert) error

	// ListAlerts returns alerts matching the filter, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)

	// ResolveAlert marks an alert resolved and returns the updated row,
	// or ErrNotFound. Resolving twice is not an error.
	ResolveAlert(ctx context.Context, id int64) (*models.Alert, error)

	// LoadLabeledCorpus returns labeled readings for training, oldest
	// first, using the stored anomaly flag as ground truth. A
	// non-positive limit returns the whole corpus.
	LoadLabeledCorpus(ctx context.Context, since time.Time, limit int) ([]models.LabeledReading, error)

	// SensorStatuses summarizes every known sensor's latest activity.
	// Sensors whose newest reading is older than staleAfter are stale.
	SensorStatuses(ctx context.Context, staleAfter time.Duration) ([]models.SensorStatus, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
