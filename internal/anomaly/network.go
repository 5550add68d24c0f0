package anomaly

import (
	"math"
	"math/rand"
)

// network is the mutable training-time view of a classifier: the same
// Layer slices, plus scratch buffers for backpropagation. Inference code
// never sees it.
type network struct {
	layers []Layer
}

// newNetwork builds hidden ReLU layers plus a single sigmoid output unit,
// with Glorot-uniform initialized weights and zero biases.
func newNetwork(inputSize int, hidden []int, rng *rand.Rand) *network {
	sizes := append([]int{inputSize}, hidden...)
	sizes = append(sizes, 1)

	layers := make([]Layer, len(sizes)-1)
	for l := 0; l < len(layers); l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		weights := make([][]float64, out)
		for j := range weights {
			row := make([]float64, in)
			for i := range row {
				row[i] = (rng.Float64()*2 - 1) * limit
			}
			weights[j] = row
		}
		activation := ActivationReLU
		if l == len(layers)-1 {
			activation = ActivationSigmoid
		}
		layers[l] = Layer{
			Weights:    weights,
			Biases:     make([]float64, out),
			Activation: activation,
		}
	}
	return &network{layers: layers}
}

// forwardActivations runs the forward pass keeping every layer's output.
// acts[0] is the input, acts[len(layers)] the final probability.
func (n *network) forwardActivations(x []float64) [][]float64 {
	acts := make([][]float64, len(n.layers)+1)
	acts[0] = x
	for l := range n.layers {
		acts[l+1] = n.layers[l].apply(acts[l])
	}
	return acts
}

// gradients mirrors the layer shapes and accumulates parameter gradients
// over a batch.
type gradients struct {
	weights [][][]float64
	biases  [][]float64
}

func newGradients(layers []Layer) *gradients {
	g := &gradients{
		weights: make([][][]float64, len(layers)),
		biases:  make([][]float64, len(layers)),
	}
	for l, layer := range layers {
		g.weights[l] = make([][]float64, len(layer.Weights))
		for j := range layer.Weights {
			g.weights[l][j] = make([]float64, len(layer.Weights[j]))
		}
		g.biases[l] = make([]float64, len(layer.Biases))
	}
	return g
}

func (g *gradients) reset() {
	for l := range g.weights {
		for j := range g.weights[l] {
			for i := range g.weights[l][j] {
				g.weights[l][j][i] = 0
			}
		}
		for j := range g.biases[l] {
			g.biases[l][j] = 0
		}
	}
}

// backprop accumulates one sample's gradients. For the sigmoid output with
// binary cross-entropy the output delta reduces to (p - y); hidden deltas
// pass through the ReLU mask of the cached activations.
func (n *network) backprop(acts [][]float64, y float64, g *gradients) {
	last := len(n.layers) - 1
	delta := []float64{acts[last+1][0] - y}

	for l := last; l >= 0; l-- {
		in := acts[l]
		for j := range n.layers[l].Weights {
			for i := range in {
				g.weights[l][j][i] += delta[j] * in[i]
			}
			g.biases[l][j] += delta[j]
		}
		if l == 0 {
			break
		}
		prev := make([]float64, len(in))
		for i := range prev {
			if in[i] <= 0 {
				continue // ReLU gate closed
			}
			var sum float64
			for j := range n.layers[l].Weights {
				sum += delta[j] * n.layers[l].Weights[j][i]
			}
			prev[i] = sum
		}
		delta = prev
	}
}

// adam holds first and second moment estimates per parameter.
type adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	step    int

	mWeights [][][]float64
	vWeights [][][]float64
	mBiases  [][]float64
	vBiases  [][]float64
}

func newAdam(n *network, lr float64) *adam {
	a := &adam{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
	}
	mk := func() (*gradients, *gradients) { return newGradients(n.layers), newGradients(n.layers) }
	m, v := mk()
	a.mWeights, a.vWeights = m.weights, v.weights
	a.mBiases, a.vBiases = m.biases, v.biases
	return a
}

func (a *adam) update(n *network, g *gradients, batch float64) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	apply := func(p *float64, grad float64, m, v *float64) {
		grad /= batch
		*m = a.beta1**m + (1-a.beta1)*grad
		*v = a.beta2**v + (1-a.beta2)*grad*grad
		mHat := *m / c1
		vHat := *v / c2
		*p -= a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}

	for l := range n.layers {
		for j := range n.layers[l].Weights {
			for i := range n.layers[l].Weights[j] {
				apply(&n.layers[l].Weights[j][i], g.weights[l][j][i], &a.mWeights[l][j][i], &a.vWeights[l][j][i])
			}
			apply(&n.layers[l].Biases[j], g.biases[l][j], &a.mBiases[l][j], &a.vBiases[l][j])
		}
	}
}

// trainBatch runs forward/backward over the index slice and applies one
// optimizer step.
func (n *network) trainBatch(opt *adam, inputs [][]float64, labels []bool, idx []int) {
	if len(idx) == 0 {
		return
	}
	g := newGradients(n.layers)
	for _, i := range idx {
		acts := n.forwardActivations(inputs[i])
		y := 0.0
		if labels[i] {
			y = 1.0
		}
		n.backprop(acts, y, g)
	}
	opt.update(n, g, float64(len(idx)))
}

// loss is mean binary cross-entropy over the index slice, with
// probabilities clamped away from 0 and 1.
func (n *network) loss(inputs [][]float64, labels []bool, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	const eps = 1e-7
	var sum float64
	for _, i := range idx {
		x := inputs[i]
		for l := range n.layers {
			x = n.layers[l].apply(x)
		}
		p := math.Min(math.Max(x[0], eps), 1-eps)
		if labels[i] {
			sum += -math.Log(p)
		} else {
			sum += -math.Log(1 - p)
		}
	}
	return sum / float64(len(idx))
}

// snapshot deep-copies the current weights.
func (n *network) snapshot() []Layer {
	out := make([]Layer, len(n.layers))
	for l, layer := range n.layers {
		weights := make([][]float64, len(layer.Weights))
		for j, row := range layer.Weights {
			weights[j] = append([]float64(nil), row...)
		}
		out[l] = Layer{
			Weights:    weights,
			Biases:     append([]float64(nil), layer.Biases...),
			Activation: layer.Activation,
		}
	}
	return out
}

// restore replaces the current weights with a snapshot.
func (n *network) restore(layers []Layer) {
	n.layers = layers
}
