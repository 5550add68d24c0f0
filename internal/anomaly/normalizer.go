package anomaly

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Normalizer holds per-column standardization parameters fitted on a
// training corpus. Columns with zero variance get std 1.0 so transforming
// them yields 0 instead of dividing by zero.
//
// Fields are exported for artifact serialization; treat a fitted
// normalizer as immutable.
type Normalizer struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitNormalizer computes column means and population standard deviations
// over the whole matrix. All rows must share the same width.
func FitNormalizer(matrix [][]float64) (*Normalizer, error) {
	if len(matrix) == 0 {
		return nil, &CorpusError{Reason: "no feature rows to fit normalizer"}
	}
	width := len(matrix[0])
	if width == 0 {
		return nil, &CorpusError{Reason: "empty feature rows"}
	}

	column := make([]float64, len(matrix))
	n := &Normalizer{
		Means: make([]float64, width),
		Stds:  make([]float64, width),
	}
	for col := 0; col < width; col++ {
		for i, row := range matrix {
			if len(row) != width {
				return nil, fmt.Errorf("ragged feature matrix: row %d has %d columns, want %d", i, len(row), width)
			}
			column[i] = row[col]
		}
		n.Means[col] = stat.Mean(column, nil)
		sd := stat.PopStdDev(column, nil)
		if sd == 0 {
			sd = 1.0
		}
		n.Stds[col] = sd
	}
	return n, nil
}

// Width returns the number of columns the normalizer was fitted on.
func (n *Normalizer) Width() int {
	return len(n.Means)
}

// Transform standardizes one feature row into a new slice.
func (n *Normalizer) Transform(row []float64) ([]float64, error) {
	if len(row) != len(n.Means) {
		return nil, fmt.Errorf("feature row has %d columns, normalizer fitted on %d", len(row), len(n.Means))
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = (v - n.Means[i]) / n.Stds[i]
	}
	return out, nil
}

// TransformMatrix standardizes every row, returning a new matrix.
func (n *Normalizer) TransformMatrix(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		t, err := n.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Validate checks that a deserialized normalizer is internally consistent.
func (n *Normalizer) Validate() error {
	if len(n.Means) == 0 {
		return fmt.Errorf("normalizer has no columns")
	}
	if len(n.Means) != len(n.Stds) {
		return fmt.Errorf("normalizer means/stds length mismatch: %d vs %d", len(n.Means), len(n.Stds))
	}
	for i, sd := range n.Stds {
		if sd <= 0 {
			return fmt.Errorf("normalizer std for column %d is %v, must be > 0", i, sd)
		}
	}
	return nil
}
