package anomaly

import (
	"fmt"
	"time"

	"github.com/moolen/driftwatch/internal/models"
)

// DefaultDecisionBoundary is the probability above which a score counts
// as an anomaly.
const DefaultDecisionBoundary = 0.5

// DefaultAlertConfidence is the minimum probability for emitting an alert.
// It gates alert noise and is deliberately independent of the training
// quality gate: one judges a score, the other judges a model.
const DefaultAlertConfidence = 0.70

// AlertFactory turns scored readings into alert records. It owns the
// anomaly decision boundary, the alert confidence gate and the severity
// policy, so every alert in the system is produced by the same rules.
type AlertFactory struct {
	policy     SeverityPolicy
	boundary   float64
	confidence float64
}

// NewAlertFactory builds a factory. Non-positive boundary or confidence
// fall back to the package defaults.
func NewAlertFactory(policy SeverityPolicy, boundary, confidence float64) *AlertFactory {
	if boundary <= 0 {
		boundary = DefaultDecisionBoundary
	}
	if confidence <= 0 {
		confidence = DefaultAlertConfidence
	}
	return &AlertFactory{policy: policy, boundary: boundary, confidence: confidence}
}

// Evaluate judges a probability for one reading. isAnomaly is the bare
// boundary decision, strictly above the boundary; the returned alert is
// non-nil only when the reading is anomalous and the probability also
// clears the confidence gate.
func (f *AlertFactory) Evaluate(reading models.Reading, probability float64) (isAnomaly bool, severity models.Severity, alert *models.Alert) {
	isAnomaly = probability > f.boundary
	severity = f.policy.Classify(probability)
	if !isAnomaly || probability < f.confidence {
		return isAnomaly, severity, nil
	}

	unit := ""
	if reading.Unit != "" {
		unit = " " + reading.Unit
	}
	alert = &models.Alert{
		SensorID:    reading.SensorID,
		Severity:    severity,
		Message:     fmt.Sprintf("anomaly detected on sensor %s: probability %.4f, value %.2f%s", reading.SensorID, probability, reading.Value, unit),
		Probability: probability,
		SensorValue: reading.Value,
		CreatedAt:   time.Now().UTC(),
	}
	return isAnomaly, severity, alert
}
