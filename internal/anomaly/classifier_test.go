package anomaly

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleUnitClassifier scores sigmoid(weight*x[idx] + bias) over a
// flattened sequence.
func singleUnitClassifier(inputSize, idx int, weight, bias float64) *Classifier {
	weights := make([]float64, inputSize)
	weights[idx] = weight
	return &Classifier{
		InputSize: inputSize,
		Layers: []Layer{{
			Weights:    [][]float64{weights},
			Biases:     []float64{bias},
			Activation: ActivationSigmoid,
		}},
	}
}

func TestClassifierProbabilityKnownWeights(t *testing.T) {
	clf := singleUnitClassifier(2, 0, 1, 0)

	tests := []struct {
		name  string
		input []float64
		want  float64
	}{
		{"zero input is 0.5", []float64{0, 0}, 0.5},
		{"strong positive saturates", []float64{10, 0}, 1.0 / (1.0 + math.Exp(-10))},
		{"strong negative approaches 0", []float64{-10, 0}, 1.0 / (1.0 + math.Exp(10))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := clf.Probability(Sequence{{tt.input[0], tt.input[1]}})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, p, 1e-12)
		})
	}
}

func TestClassifierProbabilityRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	net := newNetwork(NumFeatures*4, []int{8, 4}, rng)
	clf := &Classifier{InputSize: NumFeatures * 4, Layers: net.layers}
	require.NoError(t, clf.Validate())

	for trial := 0; trial < 100; trial++ {
		seq := make(Sequence, 4)
		for i := range seq {
			row := make([]float64, NumFeatures)
			for j := range row {
				row[j] = rng.NormFloat64() * 100
			}
			seq[i] = row
		}
		p, err := clf.Probability(seq)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestClassifierDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	net := newNetwork(6, []int{4}, rng)
	clf := &Classifier{InputSize: 6, Layers: net.layers}

	seq := Sequence{{0.5, -1.2, 3.3, 0, 1, -2}}
	p1, err := clf.Probability(seq)
	require.NoError(t, err)
	p2, err := clf.Probability(seq)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "same weights and input must give an identical score")
}

func TestClassifierDimensionMismatch(t *testing.T) {
	clf := singleUnitClassifier(4, 0, 1, 0)

	_, err := clf.Probability(Sequence{{1, 2}})
	require.Error(t, err)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)
}

func TestClassifierValidate(t *testing.T) {
	valid := singleUnitClassifier(2, 0, 1, 0)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Classifier)
	}{
		{"no layers", func(c *Classifier) { c.Layers = nil }},
		{"zero input size", func(c *Classifier) { c.InputSize = 0 }},
		{"bias count mismatch", func(c *Classifier) { c.Layers[0].Biases = []float64{1, 2} }},
		{"weight width mismatch", func(c *Classifier) { c.Layers[0].Weights[0] = []float64{1} }},
		{"unknown activation", func(c *Classifier) { c.Layers[0].Activation = "tanh" }},
		{"final layer not sigmoid", func(c *Classifier) { c.Layers[0].Activation = ActivationReLU }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := singleUnitClassifier(2, 0, 1, 0)
			tt.mutate(clf)
			assert.Error(t, clf.Validate())
		})
	}
}

func TestSigmoidStability(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, sigmoid(1000), 1e-12)
	assert.InDelta(t, 0.0, sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(sigmoid(-1000)))
}
