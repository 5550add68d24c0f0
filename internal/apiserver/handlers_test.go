package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/ingest"
	"github.com/moolen/driftwatch/internal/models"
)

// thresholdModel scores sigmoid(newest value + bias) through an identity
// normalizer: with bias -50, baseline values around 20 score near zero
// and spikes around 100 saturate to one.
func thresholdModel(version string, seqLen int, bias float64) *anomaly.TrainedModel {
	width := anomaly.NumFeatures
	means := make([]float64, width)
	stds := make([]float64, width)
	for i := range stds {
		stds[i] = 1
	}
	weights := [][]float64{make([]float64, seqLen*width)}
	weights[0][(seqLen-1)*width+anomaly.FeatValue] = 1
	return &anomaly.TrainedModel{
		Version:        version,
		TrainedAt:      time.Now().UTC(),
		Samples:        256,
		SequenceLength: seqLen,
		Normalizer:     &anomaly.Normalizer{Means: means, Stds: stds},
		Classifier: &anomaly.Classifier{
			InputSize: seqLen * width,
			Layers: []anomaly.Layer{{
				Weights:    weights,
				Biases:     []float64{bias},
				Activation: anomaly.ActivationSigmoid,
			}},
		},
		Metrics: models.TrainingMetrics{Accuracy: 0.99, Precision: 0.99, Recall: 0.99, F1: 0.99},
	}
}

// minuteReadings builds per-minute readings for one sensor ending near
// now, inside the default scoring horizon.
func minuteReadings(sensorID string, values ...float64) []models.Reading {
	start := time.Now().UTC().Add(-time.Duration(len(values)) * time.Minute)
	readings := make([]models.Reading, len(values))
	for i, v := range values {
		readings[i] = testReading(sensorID, v, start.Add(time.Duration(i)*time.Minute))
	}
	return readings
}

func steady(n int, value float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return values
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})

	status, body := env.request(t, http.MethodPost, "/v1/sensors/data", testReading("sensor-001", 21.5, time.Now().UTC()))
	require.Equal(t, http.StatusAccepted, status, "body: %s", body)

	var stored models.Reading
	decode(t, body, &stored)
	assert.Greater(t, stored.ID, int64(0))
	assert.Equal(t, "sensor-001", stored.SensorID)
	assert.InDelta(t, 21.5, stored.Value, 1e-9)

	status, body = env.request(t, http.MethodGet, "/v1/sensors/data?sensor_id=sensor-001", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Readings []models.Reading `json:"readings"`
		Count    int              `json:"count"`
	}
	decode(t, body, &list)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Readings, 1)
	assert.Equal(t, stored.ID, list.Readings[0].ID)
}

func TestIngestEndpointRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})

	// Missing sensor_id fails validation.
	reading := testReading("", 20, time.Now().UTC())
	status, body := env.request(t, http.MethodPost, "/v1/sensors/data", reading)
	require.Equal(t, http.StatusBadRequest, status)

	var payload map[string]string
	decode(t, body, &payload)
	assert.Equal(t, "VALIDATION_ERROR", payload["error"])

	// Malformed JSON body.
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/v1/sensors/data", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Wrong method.
	status, body = env.request(t, http.MethodDelete, "/v1/sensors/data", nil)
	require.Equal(t, http.StatusMethodNotAllowed, status)
	decode(t, body, &payload)
	assert.Equal(t, "METHOD_NOT_ALLOWED", payload["error"])
}

func TestListReadingsFilters(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})

	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	env.postReadings(t,
		testReading("sensor-001", 20, base),
		testReading("sensor-001", 21, base.Add(2*time.Minute)),
		testReading("sensor-002", 55, base.Add(4*time.Minute)),
	)

	var list struct {
		Readings []models.Reading `json:"readings"`
		Count    int              `json:"count"`
	}

	status, body := env.request(t, http.MethodGet, "/v1/sensors/data", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	assert.Equal(t, 3, list.Count)

	// Unix timestamp since-filter that cuts off the first reading.
	since := base.Add(time.Minute).Unix()
	status, body = env.request(t, http.MethodGet, fmt.Sprintf("/v1/sensors/data?sensor_id=sensor-001&since=%d", since), nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	assert.Equal(t, 1, list.Count)

	status, body = env.request(t, http.MethodGet, "/v1/sensors/data?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	assert.Equal(t, 2, list.Count)

	// Garbage timestamps and negative limits are rejected.
	status, _ = env.request(t, http.MethodGet, "/v1/sensors/data?since=zzzz", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.request(t, http.MethodGet, "/v1/sensors/data?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLatestReadingEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})
	env.postReadings(t, minuteReadings("sensor-001", 20, 21, 22)...)

	status, body := env.request(t, http.MethodGet, "/v1/sensors/sensor-001/latest", nil)
	require.Equal(t, http.StatusOK, status)

	var reading models.Reading
	decode(t, body, &reading)
	assert.InDelta(t, 22, reading.Value, 1e-9)

	status, body = env.request(t, http.MethodGet, "/v1/sensors/ghost/latest", nil)
	require.Equal(t, http.StatusNotFound, status)

	var payload map[string]string
	decode(t, body, &payload)
	assert.Equal(t, "NOT_FOUND", payload["error"])

	status, _ = env.request(t, http.MethodGet, "/v1/sensors/sensor-001/bogus", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.request(t, http.MethodPost, "/v1/sensors/sensor-001/latest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestScoreEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})

	// Without a model the endpoint reports the service cannot score yet.
	env.postReadings(t, minuteReadings("sensor-001", steady(testSeqLen, 20)...)...)
	status, body := env.request(t, http.MethodGet, "/v1/sensors/sensor-001/score", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)

	var payload map[string]string
	decode(t, body, &payload)
	assert.Equal(t, "MODEL_NOT_LOADED", payload["error"])

	require.NoError(t, env.pipeline.SwapModel(thresholdModel("v-score", testSeqLen, -50)))

	status, body = env.request(t, http.MethodGet, "/v1/sensors/sensor-001/score", nil)
	require.Equal(t, http.StatusOK, status)

	var verdict anomaly.Verdict
	decode(t, body, &verdict)
	assert.Equal(t, "sensor-001", verdict.SensorID)
	assert.False(t, verdict.IsAnomaly)
	assert.Less(t, verdict.Probability, 0.01)
	assert.Equal(t, "v-score", verdict.ModelVersion)

	// A sensor with fewer points than a full sequence is reported, not
	// rejected.
	env.postReadings(t, minuteReadings("sensor-002", 20, 21)...)
	status, body = env.request(t, http.MethodGet, "/v1/sensors/sensor-002/score", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &verdict)
	assert.True(t, verdict.InsufficientHistory)

	status, _ = env.request(t, http.MethodGet, "/v1/sensors/ghost/score", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAlertLifecycleOverAPI(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})
	require.NoError(t, env.pipeline.SwapModel(thresholdModel("v-alerts", testSeqLen, -50)))

	values := append(steady(testSeqLen, 20), 100)
	env.postReadings(t, minuteReadings("sensor-001", values...)...)

	type alertList struct {
		Alerts []models.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}

	// The spike is scored asynchronously; wait for its alert to land. The
	// polling closure must not fail the test itself, so it uses plain
	// http.Get instead of the request helper.
	var list alertList
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.http.URL + "/v1/alerts")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		list = alertList{}
		return json.Unmarshal(data, &list) == nil && list.Count == 1
	}, 5*time.Second, 50*time.Millisecond)

	alert := list.Alerts[0]
	assert.Equal(t, "sensor-001", alert.SensorID)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.False(t, alert.Resolved)
	assert.InDelta(t, 100, alert.SensorValue, 1e-9)

	// Severity filter.
	status, body := env.request(t, http.MethodGet, "/v1/alerts?severity=low", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	assert.Equal(t, 0, list.Count)

	status, _ = env.request(t, http.MethodGet, "/v1/alerts?severity=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Resolve it, twice: the second call is a no-op, not an error.
	path := fmt.Sprintf("/v1/alerts/%d/resolve", alert.ID)
	status, body = env.request(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, status)

	var resolved models.Alert
	decode(t, body, &resolved)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)

	status, _ = env.request(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.request(t, http.MethodGet, "/v1/alerts?resolved=false", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	assert.Equal(t, 0, list.Count)

	// Bad and unknown alert IDs.
	status, _ = env.request(t, http.MethodPost, "/v1/alerts/abc/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.request(t, http.MethodPost, "/v1/alerts/99999/resolve", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.request(t, http.MethodPost, "/v1/alerts/1/close", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSensorStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})
	env.postReadings(t,
		testReading("sensor-001", 20, time.Now().UTC().Add(-time.Minute)),
		testReading("sensor-002", 55, time.Now().UTC().Add(-2*time.Hour)),
	)

	status, body := env.request(t, http.MethodGet, "/v1/sensors/status", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Sensors []models.SensorStatus `json:"sensors"`
		Count   int                   `json:"count"`
	}
	decode(t, body, &list)
	require.Equal(t, 2, list.Count)

	byID := map[string]models.SensorStatus{}
	for _, s := range list.Sensors {
		byID[s.SensorID] = s
	}
	assert.False(t, byID["sensor-001"].Stale)
	assert.True(t, byID["sensor-002"].Stale)

	// A wider freshness cutoff flips the stale flag.
	status, body = env.request(t, http.MethodGet, "/v1/sensors/status?stale_after=3h", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, body, &list)
	for _, s := range list.Sensors {
		assert.False(t, s.Stale)
	}

	status, _ = env.request(t, http.MethodGet, "/v1/sensors/status?stale_after=soon", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})
	env.postReadings(t, minuteReadings("sensor-001", 20, 21, 22)...)

	status, body := env.request(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, status)

	var stats struct {
		TotalReadings int64 `json:"total_readings"`
		Sensors       int64 `json:"sensors"`
	}
	decode(t, body, &stats)
	assert.Equal(t, int64(3), stats.TotalReadings)
	assert.Equal(t, int64(1), stats.Sensors)
}

func TestModelEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, ingest.Config{})

	status, body := env.request(t, http.MethodGet, "/v1/model", nil)
	require.Equal(t, http.StatusNotFound, status)

	var payload map[string]string
	decode(t, body, &payload)
	assert.Equal(t, "MODEL_NOT_LOADED", payload["error"])

	require.NoError(t, env.pipeline.SwapModel(thresholdModel("v-model", testSeqLen, -50)))

	status, body = env.request(t, http.MethodGet, "/v1/model", nil)
	require.Equal(t, http.StatusOK, status)

	var info models.ModelInfo
	decode(t, body, &info)
	assert.Equal(t, "v-model", info.Version)
	assert.Equal(t, 256, info.Samples)
}

// seedCorpus persists a labeled corpus with periodic spike anomalies,
// mirroring the synthetic data the training pipeline is validated on.
func seedCorpus(t *testing.T, env *testEnv, n, spikeEvery int) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		value := 20 + rng.Float64()*0.4 - 0.2
		spike := spikeEvery > 0 && i > 0 && i%spikeEvery == 0
		if spike {
			value = 100 + rng.Float64()*4 - 2
		}
		reading := testReading("sensor-001", value, start.Add(time.Duration(i)*time.Hour))
		require.NoError(t, env.store.SaveReading(ctx, &reading))
		if spike {
			require.NoError(t, env.store.UpdateReadingAnomaly(ctx, reading.ID, true, 1))
		}
	}
}

func trainingPipelineConfig() ingest.Config {
	return ingest.Config{
		MinAccuracy: 0.6,
		Training: anomaly.TrainingConfig{
			SequenceLength: 12,
			RollingWindow:  12,
			Epochs:         30,
			Patience:       5,
			Seed:           42,
		},
	}
}

func TestTrainEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, trainingPipelineConfig())
	seedCorpus(t, env, 400, 25)

	status, body := env.request(t, http.MethodPost, "/v1/train", nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)

	var info models.ModelInfo
	decode(t, body, &info)
	assert.NotEmpty(t, info.Version)
	assert.GreaterOrEqual(t, info.Metrics.Accuracy, 0.6)

	// The new model is immediately serving.
	status, body = env.request(t, http.MethodGet, "/v1/model", nil)
	require.Equal(t, http.StatusOK, status)

	var served models.ModelInfo
	decode(t, body, &served)
	assert.Equal(t, info.Version, served.Version)
}

func TestTrainEndpointWithoutCorpus(t *testing.T) {
	env := newTestEnv(t, Config{}, trainingPipelineConfig())

	status, body := env.request(t, http.MethodPost, "/v1/train", nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	var payload map[string]string
	decode(t, body, &payload)
	assert.Equal(t, "CORPUS_ERROR", payload["error"])
}
