package anomaly

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/driftwatch/internal/models"
)

// thresholdModel scores sigmoid(newest value + bias): an identity
// normalizer and a single sigmoid unit keyed on the newest reading's raw
// value column. bias -50 means values near 100 saturate to 1 and values
// near 20 to 0.
func thresholdModel(version string, seqLen int, bias float64) *TrainedModel {
	idx := (seqLen-1)*NumFeatures + FeatValue
	return &TrainedModel{
		Version:        version,
		TrainedAt:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Samples:        100,
		SequenceLength: seqLen,
		Normalizer:     identityNormalizer(NumFeatures),
		Classifier:     singleUnitClassifier(seqLen*NumFeatures, idx, 1, bias),
		Metrics:        models.TrainingMetrics{Accuracy: 1, Precision: 1, Recall: 1, F1: 1},
	}
}

func newTestDetector(seqLen int) *Detector {
	factory := NewAlertFactory(DefaultSeverityPolicy(), 0.5, 0.7)
	return NewDetector(factory, seqLen)
}

func TestDetectorNotLoaded(t *testing.T) {
	d := newTestDetector(4)
	assert.False(t, d.Ready())

	history := hourlyReadings(monday, 1, 2, 3, 4)
	_, err := d.Evaluate(history[3], history)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestDetectorInsufficientHistory(t *testing.T) {
	d := newTestDetector(4)
	d.SwapModel(thresholdModel("m1", 4, -50))

	history := hourlyReadings(monday, 20, 20, 20)
	verdict, err := d.Evaluate(history[2], history)
	require.NoError(t, err)

	assert.True(t, verdict.InsufficientHistory)
	assert.False(t, verdict.IsAnomaly)
	assert.Zero(t, verdict.Probability)
	assert.Equal(t, models.SeverityLow, verdict.Severity)
	assert.Nil(t, verdict.Alert)
}

func TestDetectorScoresSpike(t *testing.T) {
	d := newTestDetector(4)
	d.SwapModel(thresholdModel("m1", 4, -50))

	history := hourlyReadings(monday, 20, 20, 20, 100)
	verdict, err := d.Evaluate(history[3], history)
	require.NoError(t, err)

	assert.False(t, verdict.InsufficientHistory)
	assert.Greater(t, verdict.Probability, 0.99)
	assert.True(t, verdict.IsAnomaly)
	assert.Equal(t, models.SeverityCritical, verdict.Severity)
	assert.Equal(t, "m1", verdict.ModelVersion)
	require.NotNil(t, verdict.Alert)
	assert.Equal(t, "sensor-001", verdict.Alert.SensorID)
	assert.Equal(t, 100.0, verdict.Alert.SensorValue)
}

func TestDetectorScoresNormal(t *testing.T) {
	d := newTestDetector(4)
	d.SwapModel(thresholdModel("m1", 4, -50))

	history := hourlyReadings(monday, 20, 21, 20, 19)
	verdict, err := d.Evaluate(history[3], history)
	require.NoError(t, err)

	assert.Less(t, verdict.Probability, 0.01)
	assert.False(t, verdict.IsAnomaly)
	assert.Equal(t, models.SeverityLow, verdict.Severity)
	assert.Nil(t, verdict.Alert)
}

func TestDetectorProbabilityRisesOnSpike(t *testing.T) {
	d := newTestDetector(24)
	d.SwapModel(thresholdModel("m1", 24, -50))

	// A full day of readings hovering around 20.0 within a tenth of a
	// degree, then a tenfold spike.
	values := make([]float64, 24)
	for i := range values {
		values[i] = 20 + 0.1*float64(i%3-1)
	}
	history := hourlyReadings(monday, values...)

	quiet, err := d.Evaluate(history[23], history)
	require.NoError(t, err)
	assert.False(t, quiet.IsAnomaly)
	assert.Nil(t, quiet.Alert)

	history = hourlyReadings(monday, append(values, 200)...)
	verdict, err := d.Evaluate(history[24], history)
	require.NoError(t, err)

	assert.Greater(t, verdict.Probability, quiet.Probability)
	assert.True(t, verdict.IsAnomaly)
	assert.GreaterOrEqual(t, verdict.Severity.Rank(), models.SeverityMedium.Rank())
	require.NotNil(t, verdict.Alert)
	assert.Equal(t, 200.0, verdict.Alert.SensorValue)
	assert.Equal(t, verdict.Probability, verdict.Alert.Probability)
	assert.Equal(t, verdict.Severity, verdict.Alert.Severity)
}

func TestDetectorSwapTakesEffect(t *testing.T) {
	d := newTestDetector(4)
	d.SwapModel(thresholdModel("m1", 4, -50))

	history := hourlyReadings(monday, 20, 20, 20, 20)
	verdict, err := d.Evaluate(history[3], history)
	require.NoError(t, err)
	assert.False(t, verdict.IsAnomaly)
	assert.Equal(t, "m1", verdict.ModelVersion)

	// New model flags everything.
	d.SwapModel(thresholdModel("m2", 4, 50))
	verdict, err = d.Evaluate(history[3], history)
	require.NoError(t, err)
	assert.True(t, verdict.IsAnomaly)
	assert.Equal(t, "m2", verdict.ModelVersion)
}

func TestDetectorConcurrentSwap(t *testing.T) {
	d := newTestDetector(4)
	low := thresholdModel("low", 4, -50)
	high := thresholdModel("high", 4, 50)
	d.SwapModel(low)

	history := hourlyReadings(monday, 20, 20, 20, 20)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				verdict, err := d.Evaluate(history[3], history)
				if !assert.NoError(t, err) {
					return
				}
				// Each verdict must be internally consistent: the
				// probability always matches the version it reports.
				switch verdict.ModelVersion {
				case "low":
					assert.Less(t, verdict.Probability, 0.01)
				case "high":
					assert.Greater(t, verdict.Probability, 0.99)
				default:
					t.Errorf("unexpected model version %q", verdict.ModelVersion)
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			d.SwapModel(high)
		} else {
			d.SwapModel(low)
		}
	}
	wg.Wait()
}
