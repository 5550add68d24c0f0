package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moolen/driftwatch/internal/models"
)

// Memory is an in-memory Store used by tests and by servers running
// without a database. All methods return copies so callers never alias
// internal state.
type Memory struct {
	mu          sync.RWMutex
	readings    []models.Reading
	alerts      []models.Alert
	nextReading int64
	nextAlert   int64
	now         func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextReading: 1,
		nextAlert:   1,
		now:         time.Now,
	}
}

// SaveReading implements Store.
func (m *Memory) SaveReading(ctx context.Context, reading *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reading.ID = m.nextReading
	m.nextReading++
	reading.CreatedAt = m.now().UTC()
	m.readings = append(m.readings, *reading)
	return nil
}

// UpdateReadingAnomaly implements Store.
func (m *Memory) UpdateReadingAnomaly(ctx context.Context, id int64, isAnomaly bool, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.readings {
		if m.readings[i].ID == id {
			m.readings[i].IsAnomaly = isAnomaly
			m.readings[i].AnomalyScore = score
			return nil
		}
	}
	return ErrNotFound
}

// LoadWindow implements Store.
func (m *Memory) LoadWindow(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings {
		if r.SensorID == sensorID && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sortReadingsAsc(out)
	return out, nil
}

// ListReadings implements Store.
func (m *Memory) ListReadings(ctx context.Context, filter ReadingFilter) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings {
		if filter.SensorID != "" && r.SensorID != filter.SensorID {
			continue
		}
		if filter.SensorType != "" && r.SensorType != filter.SensorType {
			continue
		}
		if !filter.Since.IsZero() && r.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && r.Timestamp.After(filter.Until) {
			continue
		}
		if filter.OnlyAnomalies && !r.IsAnomaly {
			continue
		}
		out = append(out, r)
	}
	sortReadingsAsc(out)
	return paginate(out, filter.Offset, filter.Limit), nil
}

// LatestReading implements Store.
func (m *Memory) LatestReading(ctx context.Context, sensorID string) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Reading
	for i := range m.readings {
		r := m.readings[i]
		if r.SensorID != sensorID {
			continue
		}
		if latest == nil || !r.Timestamp.Before(latest.Timestamp) {
			cp := r
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// SaveAlert implements Store.
func (m *Memory) SaveAlert(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = m.nextAlert
	m.nextAlert++
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = m.now().UTC()
	}
	m.alerts = append(m.alerts, *alert)
	return nil
}

// ListAlerts implements Store.
func (m *Memory) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for _, a := range m.alerts {
		if filter.SensorID != "" && a.SensorID != filter.SensorID {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginateAlerts(out, filter.Offset, filter.Limit), nil
}

// ResolveAlert implements Store. Resolving twice keeps the original
// resolved_at.
func (m *Memory) ResolveAlert(ctx context.Context, id int64) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID != id {
			continue
		}
		if !m.alerts[i].Resolved {
			m.alerts[i].Resolved = true
			at := m.now().UTC()
			m.alerts[i].ResolvedAt = &at
		}
		cp := m.alerts[i]
		return &cp, nil
	}
	return nil, ErrNotFound
}

// LoadLabeledCorpus implements Store.
func (m *Memory) LoadLabeledCorpus(ctx context.Context, since time.Time, limit int) ([]models.LabeledReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sortReadingsAsc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	corpus := make([]models.LabeledReading, len(out))
	for i, r := range out {
		corpus[i] = models.LabeledReading{Reading: r, Label: r.IsAnomaly}
	}
	return corpus, nil
}

// SensorStatuses implements Store.
func (m *Memory) SensorStatuses(ctx context.Context, staleAfter time.Duration) ([]models.SensorStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		latest    models.Reading
		total     int
		anomalies int
	}
	bySensor := make(map[string]*acc)
	for _, r := range m.readings {
		a, ok := bySensor[r.SensorID]
		if !ok {
			a = &acc{latest: r}
			bySensor[r.SensorID] = a
		} else if !r.Timestamp.Before(a.latest.Timestamp) {
			a.latest = r
		}
		a.total++
		if r.IsAnomaly {
			a.anomalies++
		}
	}

	ids := make([]string, 0, len(bySensor))
	for id := range bySensor {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cutoff := m.now().Add(-staleAfter)
	statuses := make([]models.SensorStatus, 0, len(ids))
	for _, id := range ids {
		a := bySensor[id]
		statuses = append(statuses, models.SensorStatus{
			SensorID:    id,
			SensorType:  a.latest.SensorType,
			LastSeen:    a.latest.Timestamp,
			LastValue:   a.latest.Value,
			Unit:        a.latest.Unit,
			Stale:       a.latest.Timestamp.Before(cutoff),
			AnomalyRate: float64(a.anomalies) / float64(a.total),
		})
	}
	return statuses, nil
}

// Stats implements Store.
func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalReadings: int64(len(m.readings)),
		TotalAlerts:   int64(len(m.alerts)),
	}
	sensors := make(map[string]struct{})
	for _, r := range m.readings {
		sensors[r.SensorID] = struct{}{}
		if r.IsAnomaly {
			stats.TotalAnomalies++
		}
	}
	for _, a := range m.alerts {
		if !a.Resolved {
			stats.UnresolvedAlerts++
		}
	}
	stats.Sensors = int64(len(sensors))
	return stats, nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

func sortReadingsAsc(readings []models.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
}

func paginate(readings []models.Reading, offset, limit int) []models.Reading {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset >= len(readings) {
		return nil
	}
	readings = readings[offset:]
	if len(readings) > limit {
		readings = readings[:limit]
	}
	return readings
}

func paginateAlerts(alerts []models.Alert, offset, limit int) []models.Alert {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset >= len(alerts) {
		return nil
	}
	alerts = alerts[offset:]
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}
