package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/models"
)

const (
	connectAttempts = 3
	connectBackoff  = 500 * time.Millisecond
)

// PoolConfig tunes the connection pool. Zero values fall back to the
// defaults below.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 25
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = 5
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	return p
}

// Postgres implements Store on PostgreSQL via sqlx.
type Postgres struct {
	db     *sqlx.DB
	logger *logging.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the given DSN with a bounded retry so a
// database that is still booting does not fail startup immediately.
func NewPostgres(dsn string, pool PoolConfig) (*Postgres, error) {
	logger := logging.GetLogger("storage.postgres")
	pool = pool.withDefaults()

	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}
		logger.Warn("postgres connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			time.Sleep(connectBackoff * time.Duration(attempt))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return &Postgres{db: db, logger: logger}, nil
}

// Migrate applies the schema. Safe to run on every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveReading implements Store.
func (p *Postgres) SaveReading(ctx context.Context, reading *models.Reading) error {
	const query = `
		INSERT INTO sensor_readings (sensor_id, sensor_type, timestamp, value, unit, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := p.db.QueryRowxContext(ctx, query,
		reading.SensorID,
		reading.SensorType,
		reading.Timestamp,
		reading.Value,
		reading.Unit,
		reading.Location,
	).Scan(&reading.ID, &reading.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// UpdateReadingAnomaly implements Store.
func (p *Postgres) UpdateReadingAnomaly(ctx context.Context, id int64, isAnomaly bool, score float64) error {
	const query = `UPDATE sensor_readings SET is_anomaly = $2, anomaly_score = $3 WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, id, isAnomaly, score)
	if err != nil {
		return fmt.Errorf("update reading %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadWindow implements Store.
func (p *Postgres) LoadWindow(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
	const query = `
		SELECT * FROM sensor_readings
		WHERE sensor_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`
	var readings []models.Reading
	if err := p.db.SelectContext(ctx, &readings, query, sensorID, since); err != nil {
		return nil, fmt.Errorf("load window for %s: %w", sensorID, err)
	}
	return readings, nil
}

// ListReadings implements Store.
func (p *Postgres) ListReadings(ctx context.Context, filter ReadingFilter) ([]models.Reading, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.SensorID != "" {
		addCondition("sensor_id = $%d", filter.SensorID)
	}
	if filter.SensorType != "" {
		addCondition("sensor_type = $%d", filter.SensorType)
	}
	if !filter.Since.IsZero() {
		addCondition("timestamp >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		addCondition("timestamp <= $%d", filter.Until)
	}
	if filter.OnlyAnomalies {
		conditions = append(conditions, "is_anomaly = TRUE")
	}

	query := `SELECT * FROM sensor_readings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var readings []models.Reading
	if err := p.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return readings, nil
}

// LatestReading implements Store.
func (p *Postgres) LatestReading(ctx context.Context, sensorID string) (*models.Reading, error) {
	const query = `
		SELECT * FROM sensor_readings
		WHERE sensor_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var reading models.Reading
	err := p.db.GetContext(ctx, &reading, query, sensorID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading for %s: %w", sensorID, err)
	}
	return &reading, nil
}

// SaveAlert implements Store.
func (p *Postgres) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO anomaly_alerts (sensor_id, severity, message, probability, sensor_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := p.db.QueryRowxContext(ctx, query,
		alert.SensorID,
		alert.Severity,
		alert.Message,
		alert.Probability,
		alert.SensorValue,
		alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts implements Store.
func (p *Postgres) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.SensorID != "" {
		addCondition("sensor_id = $%d", filter.SensorID)
	}
	if filter.Severity != "" {
		addCondition("severity = $%d", filter.Severity)
	}
	if filter.Resolved != nil {
		addCondition("resolved = $%d", *filter.Resolved)
	}

	query := `SELECT * FROM anomaly_alerts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var alerts []models.Alert
	if err := p.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// ResolveAlert implements Store. Resolving an already-resolved alert keeps
// its original resolved_at.
func (p *Postgres) ResolveAlert(ctx context.Context, id int64) (*models.Alert, error) {
	const query = `
		UPDATE anomaly_alerts
		SET resolved = TRUE, resolved_at = COALESCE(resolved_at, NOW())
		WHERE id = $1
		RETURNING *
	`
	var alert models.Alert
	err := p.db.QueryRowxContext(ctx, query, id).StructScan(&alert)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alert %d: %w", id, err)
	}
	return &alert, nil
}

// LoadLabeledCorpus implements Store.
func (p *Postgres) LoadLabeledCorpus(ctx context.Context, since time.Time, limit int) ([]models.LabeledReading, error) {
	query := `
		SELECT * FROM sensor_readings
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`
	args := []interface{}{since}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var readings []models.Reading
	if err := p.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	corpus := make([]models.LabeledReading, len(readings))
	for i, r := range readings {
		corpus[i] = models.LabeledReading{Reading: r, Label: r.IsAnomaly}
	}
	return corpus, nil
}

// SensorStatuses implements Store.
func (p *Postgres) SensorStatuses(ctx context.Context, staleAfter time.Duration) ([]models.SensorStatus, error) {
	const query = `
		SELECT DISTINCT ON (r.sensor_id)
			r.sensor_id AS sensor_id,
			r.sensor_type AS sensor_type,
			r.timestamp AS last_seen,
			r.value AS last_value,
			r.unit AS unit,
			a.rate AS anomaly_rate
		FROM sensor_readings r
		JOIN (
			SELECT sensor_id, AVG(CASE WHEN is_anomaly THEN 1.0 ELSE 0.0 END) AS rate
			FROM sensor_readings
			GROUP BY sensor_id
		) a USING (sensor_id)
		ORDER BY r.sensor_id, r.timestamp DESC
	`
	type statusRow struct {
		SensorID    string    `db:"sensor_id"`
		SensorType  string    `db:"sensor_type"`
		LastSeen    time.Time `db:"last_seen"`
		LastValue   float64   `db:"last_value"`
		Unit        string    `db:"unit"`
		AnomalyRate float64   `db:"anomaly_rate"`
	}
	var rows []statusRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("sensor statuses: %w", err)
	}

	cutoff := time.Now().Add(-staleAfter)
	statuses := make([]models.SensorStatus, len(rows))
	for i, row := range rows {
		statuses[i] = models.SensorStatus{
			SensorID:    row.SensorID,
			SensorType:  row.SensorType,
			LastSeen:    row.LastSeen,
			LastValue:   row.LastValue,
			Unit:        row.Unit,
			Stale:       row.LastSeen.Before(cutoff),
			AnomalyRate: row.AnomalyRate,
		}
	}
	return statuses, nil
}

// Stats implements Store.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM sensor_readings)                          AS total_readings,
			(SELECT COUNT(*) FROM sensor_readings WHERE is_anomaly)          AS total_anomalies,
			(SELECT COUNT(*) FROM anomaly_alerts)                            AS total_alerts,
			(SELECT COUNT(*) FROM anomaly_alerts WHERE NOT resolved)         AS unresolved_alerts,
			(SELECT COUNT(DISTINCT sensor_id) FROM sensor_readings)          AS sensors
	`
	var stats Stats
	type statsRow struct {
		TotalReadings    int64 `db:"total_readings"`
		TotalAnomalies   int64 `db:"total_anomalies"`
		TotalAlerts      int64 `db:"total_alerts"`
		UnresolvedAlerts int64 `db:"unresolved_alerts"`
		Sensors          int64 `db:"sensors"`
	}
	var row statsRow
	if err := p.db.GetContext(ctx, &row, query); err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}
	return Stats(row), nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close implements Store.
func (p *Postgres) Close() error {
	return p.db.Close()
}
