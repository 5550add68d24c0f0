// Package modelstore persists trained models as co-versioned JSON
// artifacts and hot-reloads them when they change on disk.
//
// A model is three files in one directory, written atomically and tied
// together by a shared model version:
//
//	normalizer.json  per-feature scaling fitted at training time
//	classifier.json  network weights
//	metrics.json     training provenance and held-out metrics
//
// Load refuses partial or mixed-version artifact sets, so a serving
// process can never combine a normalizer from one training run with the
// weights of another.
package modelstore

import (
	"fmt"
	"time"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/models"
)

// Artifact file names inside the model directory.
const (
	NormalizerFile = "normalizer.json"
	ClassifierFile = "classifier.json"
	MetricsFile    = "metrics.json"
)

// FormatVersion is stamped into every artifact this code writes.
// Readers accept any 1.x artifact.
const (
	FormatVersion    = "1.0.0"
	supportedFormats = "~> 1.0"
)

// ArtifactError describes an unusable artifact set. Scoring must not
// proceed on a model that failed to load.
type ArtifactError struct {
	Path   string
	Reason string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("model artifact %s: %s", e.Path, e.Reason)
}

// header ties an artifact to its model and format version.
type header struct {
	FormatVersion string `json:"format_version"`
	ModelVersion  string `json:"model_version"`
}

type normalizerFile struct {
	header
	Normalizer *anomaly.Normalizer `json:"normalizer"`
}

type classifierFile struct {
	header
	Classifier *anomaly.Classifier `json:"classifier"`
}

type metricsFile struct {
	header
	TrainedAt      time.Time              `json:"trained_at"`
	Samples        int                    `json:"samples"`
	SequenceLength int                    `json:"sequence_length"`
	Metrics        models.TrainingMetrics `json:"metrics"`
}
