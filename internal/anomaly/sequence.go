package anomaly

// DefaultSequenceLength is the number of consecutive readings the
// classifier consumes per decision.
const DefaultSequenceLength = 24

// Sequence is a fixed-length run of normalized feature vectors, oldest
// first. It is the classifier's input unit.
type Sequence [][]float64

// BuildSequence normalizes the trailing `length` rows of a feature matrix
// into a Sequence. Returns ErrInsufficientHistory when fewer rows exist;
// extra leading rows are ignored.
func BuildSequence(features [][]float64, norm *Normalizer, length int) (Sequence, error) {
	if length < 1 {
		length = DefaultSequenceLength
	}
	if len(features) < length {
		return nil, ErrInsufficientHistory
	}
	tail := features[len(features)-length:]
	rows, err := norm.TransformMatrix(tail)
	if err != nil {
		return nil, err
	}
	return Sequence(rows), nil
}

// Flatten concatenates the sequence rows oldest-first into a single input
// vector for the classifier.
func (s Sequence) Flatten() []float64 {
	if len(s) == 0 {
		return nil
	}
	out := make([]float64, 0, len(s)*len(s[0]))
	for _, row := range s {
		out = append(out, row...)
	}
	return out
}
