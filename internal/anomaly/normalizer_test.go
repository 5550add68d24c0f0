package anomaly

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitNormalizer(t *testing.T) {
	matrix := [][]float64{
		{1, 10},
		{2, 20},
		{3, 30},
		{4, 40},
	}
	norm, err := FitNormalizer(matrix)
	require.NoError(t, err)
	require.NoError(t, norm.Validate())

	assert.InDelta(t, 2.5, norm.Means[0], 1e-12)
	assert.InDelta(t, 25.0, norm.Means[1], 1e-12)

	// Population std: sqrt(mean of squared deviations).
	wantStd := math.Sqrt((1.5*1.5 + 0.5*0.5 + 0.5*0.5 + 1.5*1.5) / 4)
	assert.InDelta(t, wantStd, norm.Stds[0], 1e-9)
	assert.InDelta(t, wantStd*10, norm.Stds[1], 1e-9)

	row, err := norm.Transform([]float64{2.5, 25})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, row[0], 1e-12)
	assert.InDelta(t, 0.0, row[1], 1e-12)
}

func TestFitNormalizerZeroVariance(t *testing.T) {
	matrix := [][]float64{
		{5, 1},
		{5, 2},
		{5, 3},
	}
	norm, err := FitNormalizer(matrix)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, norm.Stds[0], 1e-12, "zero-variance column gets std 1")

	row, err := norm.Transform([]float64{5, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, row[0], 1e-12, "constant column must transform to 0, not NaN")
	assert.False(t, math.IsNaN(row[0]))
}

func TestFitNormalizerErrors(t *testing.T) {
	_, err := FitNormalizer(nil)
	require.Error(t, err)
	var corpusErr *CorpusError
	assert.ErrorAs(t, err, &corpusErr)

	_, err = FitNormalizer([][]float64{{1, 2}, {1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestTransformWidthMismatch(t *testing.T) {
	norm, err := FitNormalizer([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	_, err = norm.Transform([]float64{1})
	require.Error(t, err)
}

func TestNormalizerValidate(t *testing.T) {
	tests := []struct {
		name string
		norm Normalizer
		ok   bool
	}{
		{"valid", Normalizer{Means: []float64{0}, Stds: []float64{1}}, true},
		{"empty", Normalizer{}, false},
		{"length mismatch", Normalizer{Means: []float64{0, 1}, Stds: []float64{1}}, false},
		{"zero std", Normalizer{Means: []float64{0}, Stds: []float64{0}}, false},
		{"negative std", Normalizer{Means: []float64{0}, Stds: []float64{-1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.norm.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
