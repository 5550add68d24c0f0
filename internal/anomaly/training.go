package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/moolen/driftwatch/internal/models"
)

// TrainingConfig controls a training run. Zero values fall back to the
// defaults below, which mirror the serving pipeline.
type TrainingConfig struct {
	SequenceLength int
	RollingWindow  int
	TestSplit      float64
	Seed           int64
	Epochs         int
	BatchSize      int
	Patience       int
	LearningRate   float64
	HiddenLayers   []int
}

const (
	defaultTestSplit    = 0.2
	defaultSeed         = 42
	defaultEpochs       = 100
	defaultBatchSize    = 32
	defaultPatience     = 10
	defaultLearningRate = 0.001
)

func (c TrainingConfig) withDefaults() TrainingConfig {
	if c.SequenceLength < 1 {
		c.SequenceLength = DefaultSequenceLength
	}
	if c.RollingWindow < 1 {
		c.RollingWindow = DefaultRollingWindow
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		c.TestSplit = defaultTestSplit
	}
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}
	if c.Epochs < 1 {
		c.Epochs = defaultEpochs
	}
	if c.BatchSize < 1 {
		c.BatchSize = defaultBatchSize
	}
	if c.Patience < 1 {
		c.Patience = defaultPatience
	}
	if c.LearningRate <= 0 {
		c.LearningRate = defaultLearningRate
	}
	if len(c.HiddenLayers) == 0 {
		c.HiddenLayers = []int{32, 16}
	}
	return c
}

// TrainedModel bundles everything inference needs: the normalizer fitted
// on the corpus, the classifier weights, and the evaluation metrics of the
// run that produced them. The three parts are co-versioned; mixing parts
// from different runs is invalid.
type TrainedModel struct {
	Version        string                 `json:"version"`
	TrainedAt      time.Time              `json:"trained_at"`
	Samples        int                    `json:"samples"`
	SequenceLength int                    `json:"sequence_length"`
	Normalizer     *Normalizer            `json:"-"`
	Classifier     *Classifier            `json:"-"`
	Metrics        models.TrainingMetrics `json:"metrics"`
}

// Info returns the API-facing description of the model.
func (m *TrainedModel) Info() models.ModelInfo {
	return models.ModelInfo{
		Version:   m.Version,
		TrainedAt: m.TrainedAt,
		Samples:   m.Samples,
		Metrics:   m.Metrics,
	}
}

// MeetsQualityGate reports whether held-out accuracy reaches minAccuracy.
func (m *TrainedModel) MeetsQualityGate(minAccuracy float64) bool {
	return m.Metrics.Accuracy >= minAccuracy
}

// Train fits a normalizer and classifier on a labeled corpus.
//
// Readings are grouped per sensor and ordered chronologically inside each
// group so sequences never span sensor boundaries. The normalizer is
// fitted on the full feature matrix, sequences are labeled by their most
// recent reading, and the corpus is split stratified by label. Training
// runs Adam on binary cross-entropy with early stopping on held-out loss;
// the best epoch's weights are restored before evaluation.
//
// Identical corpus, config and seed produce an identical model.
func Train(ctx context.Context, corpus []models.LabeledReading, cfg TrainingConfig) (*TrainedModel, error) {
	cfg = cfg.withDefaults()

	if len(corpus) < cfg.SequenceLength {
		return nil, &CorpusError{Reason: fmt.Sprintf("%d readings, need at least %d for one sequence", len(corpus), cfg.SequenceLength)}
	}

	groups := groupBySensor(corpus)

	extractor := NewExtractor(cfg.RollingWindow)
	var allRows [][]float64
	type sensorFeatures struct {
		rows   [][]float64
		labels []bool
	}
	feats := make([]sensorFeatures, 0, len(groups))
	for _, group := range groups {
		readings := make([]models.Reading, len(group))
		labels := make([]bool, len(group))
		for i, lr := range group {
			readings[i] = lr.Reading
			labels[i] = lr.Label
		}
		rows := extractor.Features(readings)
		allRows = append(allRows, rows...)
		feats = append(feats, sensorFeatures{rows: rows, labels: labels})
	}

	norm, err := FitNormalizer(allRows)
	if err != nil {
		return nil, err
	}

	// Sliding windows inside each sensor group, labeled by the newest
	// reading in the window.
	var inputs [][]float64
	var labels []bool
	for _, sf := range feats {
		scaled, err := norm.TransformMatrix(sf.rows)
		if err != nil {
			return nil, err
		}
		for end := cfg.SequenceLength; end <= len(scaled); end++ {
			inputs = append(inputs, Sequence(scaled[end-cfg.SequenceLength:end]).Flatten())
			labels = append(labels, sf.labels[end-1])
		}
	}

	if len(inputs) == 0 {
		return nil, &CorpusError{Reason: "no sensor has enough consecutive readings for a sequence"}
	}
	positives := 0
	for _, l := range labels {
		if l {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return nil, &CorpusError{Reason: "corpus contains a single class, need both normal and anomalous samples"}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trainIdx, testIdx := stratifiedSplit(labels, cfg.TestSplit, rng)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, &CorpusError{Reason: fmt.Sprintf("split produced %d train / %d test samples", len(trainIdx), len(testIdx))}
	}

	inputSize := cfg.SequenceLength * NumFeatures
	net := newNetwork(inputSize, cfg.HiddenLayers, rng)
	opt := newAdam(net, cfg.LearningRate)

	best := net.snapshot()
	bestLoss := math.Inf(1)
	wait := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training cancelled at epoch %d: %w", epoch, err)
		}

		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})
		for start := 0; start < len(trainIdx); start += cfg.BatchSize {
			stop := start + cfg.BatchSize
			if stop > len(trainIdx) {
				stop = len(trainIdx)
			}
			net.trainBatch(opt, inputs, labels, trainIdx[start:stop])
		}

		valLoss := net.loss(inputs, labels, testIdx)
		if valLoss < bestLoss-1e-9 {
			bestLoss = valLoss
			best = net.snapshot()
			wait = 0
		} else {
			wait++
			if wait >= cfg.Patience {
				break
			}
		}
	}

	net.restore(best)

	clf := &Classifier{InputSize: inputSize, Layers: net.layers}
	metrics := evaluate(clf, inputs, labels, testIdx, DefaultDecisionBoundary)

	return &TrainedModel{
		Version:        uuid.NewString(),
		TrainedAt:      time.Now().UTC(),
		Samples:        len(inputs),
		SequenceLength: cfg.SequenceLength,
		Normalizer:     norm,
		Classifier:     clf,
		Metrics:        metrics,
	}, nil
}

// groupBySensor splits the corpus into per-sensor runs, chronological
// inside each run, with sensors in stable sorted order.
func groupBySensor(corpus []models.LabeledReading) [][]models.LabeledReading {
	byID := make(map[string][]models.LabeledReading)
	for _, lr := range corpus {
		byID[lr.Reading.SensorID] = append(byID[lr.Reading.SensorID], lr)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]models.LabeledReading, 0, len(ids))
	for _, id := range ids {
		group := byID[id]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Reading.Timestamp.Before(group[j].Reading.Timestamp)
		})
		out = append(out, group)
	}
	return out
}

// stratifiedSplit partitions sample indices into train and test sets,
// preserving the label ratio. Each class with more than one member
// contributes at least one test sample. The returned sets are disjoint and
// cover all indices.
func stratifiedSplit(labels []bool, testFrac float64, rng *rand.Rand) (train, test []int) {
	var pos, neg []int
	for i, l := range labels {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	for _, stratum := range [][]int{neg, pos} {
		stratum := append([]int(nil), stratum...)
		rng.Shuffle(len(stratum), func(i, j int) {
			stratum[i], stratum[j] = stratum[j], stratum[i]
		})
		n := int(math.Round(float64(len(stratum)) * testFrac))
		if n == 0 && len(stratum) > 1 {
			n = 1
		}
		if n >= len(stratum) {
			n = len(stratum) - 1
		}
		if n < 0 {
			n = 0
		}
		test = append(test, stratum[:n]...)
		train = append(train, stratum[n:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// evaluate computes held-out metrics at the given decision boundary.
// Degenerate denominators yield 0 rather than NaN.
func evaluate(clf *Classifier, inputs [][]float64, labels []bool, idx []int, boundary float64) models.TrainingMetrics {
	var tp, tn, fp, fn float64
	for _, i := range idx {
		p := clf.forwardRaw(inputs[i])
		predicted := p > boundary
		switch {
		case predicted && labels[i]:
			tp++
		case predicted && !labels[i]:
			fp++
		case !predicted && labels[i]:
			fn++
		default:
			tn++
		}
	}
	total := tp + tn + fp + fn
	m := models.TrainingMetrics{}
	if total > 0 {
		m.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
