package window

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/driftwatch/internal/cachestore"
	"github.com/moolen/driftwatch/internal/models"
	"github.com/moolen/driftwatch/internal/storage"
)

var windowBase = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func mkReading(sensorID string, offset time.Duration, value float64) models.Reading {
	return models.Reading{
		SensorID:   sensorID,
		SensorType: "temperature",
		Timestamp:  windowBase.Add(offset),
		Value:      value,
		Unit:       "C",
	}
}

// pinNow keeps horizon math stable across the test run.
func pinNow(c *Cache, offset time.Duration) {
	c.now = func() time.Time { return windowBase.Add(offset) }
}

// stubStore overrides LoadWindow; every other Store method panics if a
// test reaches it.
type stubStore struct {
	storage.Store
	loadWindow func(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error)
	calls      atomic.Int32
}

func (s *stubStore) LoadWindow(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
	s.calls.Add(1)
	return s.loadWindow(ctx, sensorID, since)
}

func TestAppendKeepsWindowOrdered(t *testing.T) {
	cache := New(Config{Size: 3}, nil, nil)
	pinNow(cache, 3*time.Hour)
	ctx := context.Background()

	cache.Append(ctx, mkReading("sensor-1", 2*time.Hour, 22.0))
	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))
	cache.Append(ctx, mkReading("sensor-1", time.Hour, 21.0))

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, []float64{20.0, 21.0, 22.0}, values(window))
	assert.Equal(t, uint64(1), cache.Stats().BufferHits)
}

func TestAppendDuplicateTimestampLastWriteWins(t *testing.T) {
	cache := New(Config{Size: 1}, nil, nil)
	pinNow(cache, time.Hour)
	ctx := context.Background()

	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))
	cache.Append(ctx, mkReading("sensor-1", 0, 25.0))

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 25.0, window[0].Value)
}

func TestAppendDropsOldestBeyondCapacity(t *testing.T) {
	cache := New(Config{Size: 2, Capacity: 5}, nil, nil)
	pinNow(cache, 10*time.Hour)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		cache.Append(ctx, mkReading("sensor-1", time.Duration(i)*time.Hour, float64(i)))
	}

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	require.Len(t, window, 5)
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, values(window))
}

func TestGetWindowHonorsHorizon(t *testing.T) {
	cache := New(Config{Size: 1}, nil, nil)
	pinNow(cache, 4*time.Hour)
	ctx := context.Background()

	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))
	cache.Append(ctx, mkReading("sensor-1", 3*time.Hour, 23.0))

	window, err := cache.GetWindow(ctx, "sensor-1", 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 23.0, window[0].Value)
}

func TestGetWindowHydratesFromStore(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r := mkReading("sensor-1", time.Duration(i)*time.Hour, 20.0+float64(i))
		require.NoError(t, mem.SaveReading(ctx, &r))
	}

	cache := New(Config{Size: 3}, mem, nil)
	pinNow(cache, 3*time.Hour)

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{20.0, 21.0, 22.0}, values(window))
	assert.Equal(t, uint64(1), cache.Stats().StoreLoads)

	// The hydrated window now serves from memory.
	_, err = cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cache.Stats().BufferHits)
	assert.Equal(t, uint64(1), cache.Stats().StoreLoads)
}

func TestGetWindowMergesBufferOverStore(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		r := mkReading("sensor-1", time.Duration(i)*time.Hour, 20.0+float64(i))
		require.NoError(t, mem.SaveReading(ctx, &r))
	}

	cache := New(Config{Size: 3}, mem, nil)
	pinNow(cache, 3*time.Hour)

	// Fresh append not yet visible in the store.
	cache.Append(ctx, mkReading("sensor-1", 2*time.Hour, 22.0))

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{20.0, 21.0, 22.0}, values(window))
}

func TestGetWindowBestEffortOnStoreError(t *testing.T) {
	store := &stubStore{
		loadWindow: func(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
			return nil, errors.New("connection refused")
		},
	}
	cache := New(Config{Size: 3}, store, nil)
	pinNow(cache, time.Hour)
	ctx := context.Background()

	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 20.0, window[0].Value)
	assert.Equal(t, uint64(1), cache.Stats().StoreErrors)
}

func TestGetWindowBoundsStoreTimeout(t *testing.T) {
	store := &stubStore{
		loadWindow: func(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cache := New(Config{Size: 3, StoreTimeout: 50 * time.Millisecond}, store, nil)
	pinNow(cache, time.Hour)
	ctx := context.Background()

	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))

	start := time.Now()
	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, window, 1)
	assert.Equal(t, uint64(1), cache.Stats().StoreErrors)
}

func TestGetWindowCollapsesConcurrentHydration(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{}
	store.loadWindow = func(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
		<-release
		return []models.Reading{mkReading("sensor-1", 0, 20.0)}, nil
	}
	cache := New(Config{Size: 1}, store, nil)
	pinNow(cache, time.Hour)

	const waiters = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	wg.Add(waiters)
	started.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			started.Done()
			window, err := cache.GetWindow(context.Background(), "sensor-1", 0)
			assert.NoError(t, err)
			assert.Len(t, window, 1)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), store.calls.Load())
}

func TestGetWindowUsesCacheStore(t *testing.T) {
	remote, err := cachestore.NewMemory(16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	cached := []models.Reading{
		mkReading("sensor-1", 0, 20.0),
		mkReading("sensor-1", time.Hour, 21.0),
		mkReading("sensor-1", 2*time.Hour, 22.0),
	}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, remote.Set(ctx, windowKey("sensor-1"), payload, time.Minute))

	store := &stubStore{
		loadWindow: func(ctx context.Context, sensorID string, since time.Time) ([]models.Reading, error) {
			return nil, errors.New("store should not be consulted")
		},
	}

	cache := New(Config{Size: 3}, store, remote)
	pinNow(cache, 3*time.Hour)

	window, err := cache.GetWindow(ctx, "sensor-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{20.0, 21.0, 22.0}, values(window))
	assert.Equal(t, uint64(1), cache.Stats().CacheHits)
	assert.Equal(t, int32(0), store.calls.Load())
}

func TestAppendWritesThroughToCacheStore(t *testing.T) {
	remote, err := cachestore.NewMemory(16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	cache := New(Config{Size: 3}, nil, remote)
	pinNow(cache, time.Hour)
	cache.Append(ctx, mkReading("sensor-1", 0, 20.0))

	payload, ok, err := remote.Get(ctx, windowKey("sensor-1"))
	require.NoError(t, err)
	require.True(t, ok)

	var snapshot []models.Reading
	require.NoError(t, json.Unmarshal(payload, &snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, 20.0, snapshot[0].Value)
}

func TestGetWindowUnknownSensor(t *testing.T) {
	cache := New(Config{Size: 3}, nil, nil)
	pinNow(cache, time.Hour)

	window, err := cache.GetWindow(context.Background(), "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, window)
}

func values(readings []models.Reading) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Value
	}
	return out
}
