package anomaly

import (
	"fmt"
	"math"
)

// Activation names carried in serialized models.
const (
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
)

// Layer is one dense layer of the classifier. Weights are row-major,
// one row per output unit.
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation string      `json:"activation"`
}

// Classifier is a small feed-forward network scoring a flattened Sequence.
// The final layer has a single sigmoid unit, so Probability is always in
// (0,1). Scoring is pure and deterministic; a Classifier is safe for
// concurrent use once built.
type Classifier struct {
	InputSize int     `json:"input_size"`
	Layers    []Layer `json:"layers"`
}

// Probability runs the forward pass over a sequence and returns the
// anomaly probability.
func (c *Classifier) Probability(seq Sequence) (float64, error) {
	x := seq.Flatten()
	if len(x) != c.InputSize {
		return 0, &DimensionError{Want: c.InputSize, Got: len(x)}
	}
	for i := range c.Layers {
		x = c.Layers[i].apply(x)
	}
	if len(x) != 1 {
		return 0, fmt.Errorf("classifier output width %d, want 1", len(x))
	}
	return x[0], nil
}

// forwardRaw scores an already-flattened input without shape checks.
// Training and evaluation use it on pre-built input vectors.
func (c *Classifier) forwardRaw(x []float64) float64 {
	for i := range c.Layers {
		x = c.Layers[i].apply(x)
	}
	return x[0]
}

func (l *Layer) apply(in []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for j, row := range l.Weights {
		sum := l.Biases[j]
		for i, w := range row {
			sum += w * in[i]
		}
		out[j] = activate(l.Activation, sum)
	}
	return out
}

func activate(name string, x float64) float64 {
	switch name {
	case ActivationReLU:
		if x < 0 {
			return 0
		}
		return x
	case ActivationSigmoid:
		return sigmoid(x)
	default:
		return x
	}
}

// sigmoid avoids overflow for large negative inputs.
func sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1 / (1 + z)
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// Validate checks structural consistency of a deserialized classifier.
func (c *Classifier) Validate() error {
	if c.InputSize < 1 {
		return fmt.Errorf("classifier input size %d, must be >= 1", c.InputSize)
	}
	if len(c.Layers) == 0 {
		return fmt.Errorf("classifier has no layers")
	}
	in := c.InputSize
	for li, layer := range c.Layers {
		if len(layer.Weights) == 0 {
			return fmt.Errorf("layer %d has no units", li)
		}
		if len(layer.Biases) != len(layer.Weights) {
			return fmt.Errorf("layer %d has %d biases for %d units", li, len(layer.Biases), len(layer.Weights))
		}
		for ui, row := range layer.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d unit %d has %d weights, want %d", li, ui, len(row), in)
			}
		}
		switch layer.Activation {
		case ActivationReLU, ActivationSigmoid:
		default:
			return fmt.Errorf("layer %d has unknown activation %q", li, layer.Activation)
		}
		in = len(layer.Weights)
	}
	last := c.Layers[len(c.Layers)-1]
	if len(last.Weights) != 1 || last.Activation != ActivationSigmoid {
		return fmt.Errorf("final layer must be a single sigmoid unit")
	}
	return nil
}
