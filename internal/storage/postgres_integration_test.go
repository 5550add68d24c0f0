package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/moolen/driftwatch/internal/models"
)

// startPostgres brings up a throwaway postgres container and returns a
// migrated store against it. Gated behind DRIFTWATCH_POSTGRES_TEST so
// the default test run stays hermetic.
func startPostgres(t *testing.T) *Postgres {
	t.Helper()

	if os.Getenv("DRIFTWATCH_POSTGRES_TEST") == "" {
		t.Skip("set DRIFTWATCH_POSTGRES_TEST=1 to run postgres integration tests")
	}
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "driftwatch",
			"POSTGRES_PASSWORD": "driftwatch",
			"POSTGRES_DB":       "driftwatch",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://driftwatch:driftwatch@%s:%d/driftwatch?sslmode=disable", host, port.Int())

	var store *Postgres
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		store, err = NewPostgres(dsn, PoolConfig{})
		if err == nil && store.Ping(ctx) == nil {
			break
		}
		if store != nil {
			store.Close()
			store = nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NotNil(t, store, "postgres not ready: %v", err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStore(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	t.Run("readings round trip", func(t *testing.T) {
		r := seedReading(t, store, "pg-sensor-1", 0, 20.0)
		assert.NotZero(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())

		seedReading(t, store, "pg-sensor-1", time.Hour, 21.0)
		seedReading(t, store, "pg-sensor-1", 2*time.Hour, 22.0)

		window, err := store.LoadWindow(ctx, "pg-sensor-1", testBase.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, 21.0, window[0].Value)
		assert.Equal(t, 22.0, window[1].Value)
	})

	t.Run("anomaly flag update", func(t *testing.T) {
		r := seedReading(t, store, "pg-sensor-2", 0, 85.0)
		require.NoError(t, store.UpdateReadingAnomaly(ctx, r.ID, true, 0.93))

		got, err := store.LatestReading(ctx, "pg-sensor-2")
		require.NoError(t, err)
		assert.True(t, got.IsAnomaly)
		assert.InDelta(t, 0.93, got.AnomalyScore, 1e-9)

		err = store.UpdateReadingAnomaly(ctx, -1, true, 0.5)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters", func(t *testing.T) {
		anomalies, err := store.ListReadings(ctx, ReadingFilter{SensorID: "pg-sensor-2", OnlyAnomalies: true})
		require.NoError(t, err)
		require.Len(t, anomalies, 1)
		assert.Equal(t, 85.0, anomalies[0].Value)

		limited, err := store.ListReadings(ctx, ReadingFilter{SensorID: "pg-sensor-1", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, 21.0, limited[0].Value)
	})

	t.Run("latest reading missing sensor", func(t *testing.T) {
		_, err := store.LatestReading(ctx, "pg-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("alert lifecycle", func(t *testing.T) {
		alert := &models.Alert{
			SensorID:    "pg-sensor-2",
			Severity:    models.SeverityCritical,
			Message:     "anomaly detected on sensor pg-sensor-2: probability 0.9300, value 85.00",
			Probability: 0.93,
			SensorValue: 85.0,
		}
		require.NoError(t, store.SaveAlert(ctx, alert))
		assert.NotZero(t, alert.ID)

		resolved, err := store.ResolveAlert(ctx, alert.ID)
		require.NoError(t, err)
		assert.True(t, resolved.Resolved)
		require.NotNil(t, resolved.ResolvedAt)

		again, err := store.ResolveAlert(ctx, alert.ID)
		require.NoError(t, err)
		require.NotNil(t, again.ResolvedAt)
		assert.WithinDuration(t, *resolved.ResolvedAt, *again.ResolvedAt, time.Millisecond)

		_, err = store.ResolveAlert(ctx, -1)
		assert.ErrorIs(t, err, ErrNotFound)

		closed := true
		resolvedAlerts, err := store.ListAlerts(ctx, AlertFilter{Resolved: &closed})
		require.NoError(t, err)
		require.Len(t, resolvedAlerts, 1)
		assert.Equal(t, alert.ID, resolvedAlerts[0].ID)
	})

	t.Run("labeled corpus carries anomaly labels", func(t *testing.T) {
		corpus, err := store.LoadLabeledCorpus(ctx, testBase, 100)
		require.NoError(t, err)
		require.NotEmpty(t, corpus)

		var positives int
		for _, lr := range corpus {
			if lr.Label {
				positives++
			}
		}
		assert.Equal(t, 1, positives)
	})

	t.Run("sensor statuses", func(t *testing.T) {
		statuses, err := store.SensorStatuses(ctx, time.Hour)
		require.NoError(t, err)
		require.Len(t, statuses, 2)

		byID := make(map[string]models.SensorStatus, len(statuses))
		for _, s := range statuses {
			byID[s.SensorID] = s
		}
		require.Contains(t, byID, "pg-sensor-1")
		require.Contains(t, byID, "pg-sensor-2")
		assert.Equal(t, 22.0, byID["pg-sensor-1"].LastValue)
		assert.Zero(t, byID["pg-sensor-1"].AnomalyRate)
		assert.InDelta(t, 1.0, byID["pg-sensor-2"].AnomalyRate, 1e-9)
		// Seed timestamps are far in the past relative to the wall clock.
		assert.True(t, byID["pg-sensor-1"].Stale)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.TotalReadings)
		assert.Equal(t, int64(1), stats.TotalAnomalies)
		assert.Equal(t, int64(1), stats.TotalAlerts)
		assert.Equal(t, int64(0), stats.UnresolvedAlerts)
		assert.Equal(t, int64(2), stats.Sensors)
	})

	t.Run("migrate is idempotent", func(t *testing.T) {
		require.NoError(t, store.Migrate(ctx))
	})
}
