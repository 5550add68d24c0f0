// Package anomaly implements the detection pipeline: time-series feature
// extraction, standardization, a small feed-forward classifier, severity
// tiers, and the training loop that produces co-versioned model artifacts.
//
// All scoring here is pure; windows, persistence and publication live with
// the callers.
package anomaly

import (
	"sync/atomic"
	"time"

	"github.com/moolen/driftwatch/internal/models"
)

// Verdict is the outcome of scoring one reading against its window.
type Verdict struct {
	SensorID            string          `json:"sensor_id"`
	Timestamp           time.Time       `json:"timestamp"`
	Probability         float64         `json:"probability"`
	IsAnomaly           bool            `json:"is_anomaly"`
	Severity            models.Severity `json:"severity"`
	InsufficientHistory bool            `json:"insufficient_history,omitempty"`
	ModelVersion        string          `json:"model_version,omitempty"`

	// Alert is set only when the factory's gates passed. Persisting and
	// publishing it is the caller's job.
	Alert *models.Alert `json:"-"`
}

// Detector scores readings with whatever model is currently loaded. The
// model is swapped atomically, so in-flight evaluations always see one
// consistent normalizer/classifier pair.
type Detector struct {
	model   atomic.Pointer[TrainedModel]
	factory *AlertFactory
	rolling int
}

// NewDetector builds a detector without a model; it reports
// ErrModelNotLoaded until SwapModel is called.
func NewDetector(factory *AlertFactory, rollingWindow int) *Detector {
	if rollingWindow < 1 {
		rollingWindow = DefaultRollingWindow
	}
	return &Detector{factory: factory, rolling: rollingWindow}
}

// SwapModel atomically replaces the serving model.
func (d *Detector) SwapModel(m *TrainedModel) {
	d.model.Store(m)
}

// Model returns the serving model, or nil when none is loaded.
func (d *Detector) Model() *TrainedModel {
	return d.model.Load()
}

// Ready reports whether a model is serving.
func (d *Detector) Ready() bool {
	return d.model.Load() != nil
}

// Evaluate scores `reading` given the chronological window `history`,
// which must already include the reading as its newest point. A window
// shorter than one sequence yields a zero-probability verdict flagged
// InsufficientHistory rather than an error.
func (d *Detector) Evaluate(reading models.Reading, history []models.Reading) (*Verdict, error) {
	model := d.model.Load()
	if model == nil {
		return nil, ErrModelNotLoaded
	}

	verdict := &Verdict{
		SensorID:     reading.SensorID,
		Timestamp:    reading.Timestamp,
		Severity:     models.SeverityLow,
		ModelVersion: model.Version,
	}

	features := NewExtractor(d.rolling).Features(history)
	seq, err := BuildSequence(features, model.Normalizer, model.SequenceLength)
	if err == ErrInsufficientHistory {
		verdict.InsufficientHistory = true
		return verdict, nil
	}
	if err != nil {
		return nil, err
	}

	probability, err := model.Classifier.Probability(seq)
	if err != nil {
		return nil, err
	}

	verdict.Probability = probability
	verdict.IsAnomaly, verdict.Severity, verdict.Alert = d.factory.Evaluate(reading, probability)
	return verdict, nil
}
