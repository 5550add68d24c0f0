package anomaly

import (
	"errors"
	"fmt"

	"github.com/moolen/driftwatch/internal/models"
)

var (
	// ErrInsufficientHistory indicates a sensor window holds fewer points
	// than one full sequence. Not a failure: callers report it as a
	// distinct condition instead of a score.
	ErrInsufficientHistory = errors.New("insufficient history for a full sequence")

	// ErrModelNotLoaded indicates no trained model is serving inference.
	ErrModelNotLoaded = errors.New("no trained model loaded")
)

// CorpusError indicates a training corpus that cannot produce a model.
type CorpusError struct {
	Reason string
}

func (e *CorpusError) Error() string {
	return fmt.Sprintf("unusable training corpus: %s", e.Reason)
}

// QualityGateError indicates a training run whose held-out accuracy fell
// below the configured minimum. Metrics are carried so callers can report
// them even though no model was promoted.
type QualityGateError struct {
	Metrics     models.TrainingMetrics
	MinAccuracy float64
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("trained model below quality gate: accuracy %.4f < %.4f",
		e.Metrics.Accuracy, e.MinAccuracy)
}

// DimensionError indicates a sequence whose shape does not match what the
// classifier was trained on, typically a model/feature version mismatch.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("sequence dimension mismatch: classifier expects %d inputs, got %d", e.Want, e.Got)
}
