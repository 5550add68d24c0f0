package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/driftwatch/internal/models"
)

func TestAlertFactoryGating(t *testing.T) {
	factory := NewAlertFactory(DefaultSeverityPolicy(), 0.5, 0.7)
	reading := models.Reading{
		SensorID:   "sensor-009",
		SensorType: "pressure",
		Timestamp:  time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
		Value:      42.5,
		Unit:       "bar",
	}

	tests := []struct {
		name        string
		probability float64
		isAnomaly   bool
		severity    models.Severity
		wantAlert   bool
	}{
		{"well below boundary", 0.2, false, models.SeverityLow, false},
		{"just below boundary", 0.49, false, models.SeverityLow, false},
		{"exactly at boundary stays normal", 0.5, false, models.SeverityLow, false},
		{"anomalous but below confidence", 0.65, true, models.SeverityMedium, false},
		{"at confidence gate", 0.7, true, models.SeverityMedium, true},
		{"high tier", 0.85, true, models.SeverityHigh, true},
		{"critical tier", 0.95, true, models.SeverityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isAnomaly, severity, alert := factory.Evaluate(reading, tt.probability)
			assert.Equal(t, tt.isAnomaly, isAnomaly)
			assert.Equal(t, tt.severity, severity)
			if !tt.wantAlert {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, reading.SensorID, alert.SensorID)
			assert.Equal(t, tt.severity, alert.Severity)
			assert.Equal(t, tt.probability, alert.Probability)
			assert.Equal(t, reading.Value, alert.SensorValue)
			assert.False(t, alert.Resolved)
			assert.Contains(t, alert.Message, "sensor-009")
			assert.Contains(t, alert.Message, "bar")
		})
	}
}

func TestAlertFactoryDefaults(t *testing.T) {
	factory := NewAlertFactory(DefaultSeverityPolicy(), 0, 0)
	assert.Equal(t, DefaultDecisionBoundary, factory.boundary)
	assert.Equal(t, DefaultAlertConfidence, factory.confidence)
}

func TestAlertFactoryConfidenceIndependentOfBoundary(t *testing.T) {
	// A confidence below the boundary means every anomaly alerts.
	factory := NewAlertFactory(DefaultSeverityPolicy(), 0.5, 0.1)
	reading := models.Reading{SensorID: "s", SensorType: "t", Timestamp: time.Now(), Value: 1}

	isAnomaly, _, alert := factory.Evaluate(reading, 0.55)
	assert.True(t, isAnomaly)
	assert.NotNil(t, alert)

	isAnomaly, _, alert = factory.Evaluate(reading, 0.45)
	assert.False(t, isAnomaly)
	assert.Nil(t, alert, "below the boundary nothing alerts, whatever the confidence")
}
