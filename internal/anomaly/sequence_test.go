package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityNormalizer(width int) *Normalizer {
	n := &Normalizer{Means: make([]float64, width), Stds: make([]float64, width)}
	for i := range n.Stds {
		n.Stds[i] = 1
	}
	return n
}

func TestBuildSequenceInsufficientHistory(t *testing.T) {
	norm := identityNormalizer(2)
	features := [][]float64{{1, 1}, {2, 2}}

	_, err := BuildSequence(features, norm, 3)
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = BuildSequence(nil, norm, 3)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestBuildSequenceTakesNewestRows(t *testing.T) {
	norm := identityNormalizer(1)
	features := [][]float64{{1}, {2}, {3}, {4}, {5}}

	seq, err := BuildSequence(features, norm, 3)
	require.NoError(t, err)
	require.Len(t, seq, 3)

	// Newest rows, oldest first.
	assert.Equal(t, []float64{3}, seq[0])
	assert.Equal(t, []float64{4}, seq[1])
	assert.Equal(t, []float64{5}, seq[2])
}

func TestBuildSequenceExactLength(t *testing.T) {
	norm := identityNormalizer(1)
	features := [][]float64{{1}, {2}}

	seq, err := BuildSequence(features, norm, 2)
	require.NoError(t, err)
	assert.Len(t, seq, 2)
}

func TestBuildSequenceNormalizes(t *testing.T) {
	norm := &Normalizer{Means: []float64{10}, Stds: []float64{2}}
	features := [][]float64{{12}, {14}}

	seq, err := BuildSequence(features, norm, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, seq[0][0], 1e-12)
	assert.InDelta(t, 2.0, seq[1][0], 1e-12)
}

func TestSequenceFlatten(t *testing.T) {
	seq := Sequence{{1, 2}, {3, 4}, {5, 6}}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, seq.Flatten())
	assert.Nil(t, Sequence{}.Flatten())
}
