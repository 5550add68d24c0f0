package models

import "time"

// TrainingMetrics are evaluation results computed on the held-out split
// after a training run. All values are in [0,1].
type TrainingMetrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// ModelInfo describes the model currently serving inference.
type ModelInfo struct {
	Version   string          `json:"version"`
	TrainedAt time.Time       `json:"trained_at"`
	Samples   int             `json:"samples"`
	Metrics   TrainingMetrics `json:"metrics"`
}
