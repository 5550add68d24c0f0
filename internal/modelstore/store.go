package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-version"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/logging"
)

// Store reads and writes model artifacts under one directory.
type Store struct {
	dir    string
	logger *logging.Logger
}

// New returns a store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("model directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logging.GetLogger("modelstore")}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the model's three artifacts. Each file is written to a
// temporary name and renamed into place, so a concurrent reader sees
// either the old artifact or the new one, never a torn write.
func (s *Store) Save(model *anomaly.TrainedModel) error {
	if model == nil {
		return fmt.Errorf("cannot save nil model")
	}
	h := header{FormatVersion: FormatVersion, ModelVersion: model.Version}

	artifacts := map[string]any{
		NormalizerFile: normalizerFile{header: h, Normalizer: model.Normalizer},
		ClassifierFile: classifierFile{header: h, Classifier: model.Classifier},
		MetricsFile: metricsFile{
			header:         h,
			TrainedAt:      model.TrainedAt,
			Samples:        model.Samples,
			SequenceLength: model.SequenceLength,
			Metrics:        model.Metrics,
		},
	}
	for name, payload := range artifacts {
		if err := s.writeAtomic(name, payload); err != nil {
			return err
		}
	}
	s.logger.Info("saved model %s to %s", model.Version, s.dir)
	return nil
}

func (s *Store) writeAtomic(name string, payload any) error {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s into place: %w", name, err)
	}
	return nil
}

// Load reads and validates the artifact set. It returns an
// *ArtifactError when files are missing, unreadable, from an unsupported
// format, or not from the same training run.
func (s *Store) Load() (*anomaly.TrainedModel, error) {
	var norm normalizerFile
	if err := s.readArtifact(NormalizerFile, &norm); err != nil {
		return nil, err
	}
	var clf classifierFile
	if err := s.readArtifact(ClassifierFile, &clf); err != nil {
		return nil, err
	}
	var met metricsFile
	if err := s.readArtifact(MetricsFile, &met); err != nil {
		return nil, err
	}

	if norm.ModelVersion != clf.ModelVersion || norm.ModelVersion != met.ModelVersion {
		return nil, &ArtifactError{
			Path: s.dir,
			Reason: fmt.Sprintf("artifact versions do not match: normalizer=%s classifier=%s metrics=%s",
				norm.ModelVersion, clf.ModelVersion, met.ModelVersion),
		}
	}
	if norm.Normalizer == nil {
		return nil, &ArtifactError{Path: s.path(NormalizerFile), Reason: "missing normalizer payload"}
	}
	if clf.Classifier == nil {
		return nil, &ArtifactError{Path: s.path(ClassifierFile), Reason: "missing classifier payload"}
	}

	model := &anomaly.TrainedModel{
		Version:        met.ModelVersion,
		TrainedAt:      met.TrainedAt,
		Samples:        met.Samples,
		SequenceLength: met.SequenceLength,
		Normalizer:     norm.Normalizer,
		Classifier:     clf.Classifier,
		Metrics:        met.Metrics,
	}
	if err := s.validate(model); err != nil {
		return nil, err
	}
	return model, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) readArtifact(name string, out any) error {
	path := s.path(name)
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ArtifactError{Path: path, Reason: "artifact missing"}
	}
	if err != nil {
		return &ArtifactError{Path: path, Reason: err.Error()}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ArtifactError{Path: path, Reason: fmt.Sprintf("undecodable: %v", err)}
	}
	return s.checkFormat(path, out)
}

func (s *Store) checkFormat(path string, artifact any) error {
	var h header
	switch a := artifact.(type) {
	case *normalizerFile:
		h = a.header
	case *classifierFile:
		h = a.header
	case *metricsFile:
		h = a.header
	}
	if h.FormatVersion == "" {
		return &ArtifactError{Path: path, Reason: "missing format_version"}
	}
	v, err := version.NewVersion(h.FormatVersion)
	if err != nil {
		return &ArtifactError{Path: path, Reason: fmt.Sprintf("invalid format_version %q: %v", h.FormatVersion, err)}
	}
	constraint, err := version.NewConstraint(supportedFormats)
	if err != nil {
		return fmt.Errorf("parse format constraint: %w", err)
	}
	if !constraint.Check(v) {
		return &ArtifactError{
			Path:   path,
			Reason: fmt.Sprintf("format %s not supported (want %s)", h.FormatVersion, supportedFormats),
		}
	}
	if h.ModelVersion == "" {
		return &ArtifactError{Path: path, Reason: "missing model_version"}
	}
	return nil
}

func (s *Store) validate(model *anomaly.TrainedModel) error {
	if model.SequenceLength <= 0 {
		return &ArtifactError{Path: s.path(MetricsFile), Reason: "non-positive sequence_length"}
	}
	if err := model.Normalizer.Validate(); err != nil {
		return &ArtifactError{Path: s.path(NormalizerFile), Reason: err.Error()}
	}
	if got := model.Normalizer.Width(); got != anomaly.NumFeatures {
		return &ArtifactError{
			Path:   s.path(NormalizerFile),
			Reason: fmt.Sprintf("normalizer covers %d features, want %d", got, anomaly.NumFeatures),
		}
	}
	if err := model.Classifier.Validate(); err != nil {
		return &ArtifactError{Path: s.path(ClassifierFile), Reason: err.Error()}
	}
	if want := model.SequenceLength * anomaly.NumFeatures; model.Classifier.InputSize != want {
		return &ArtifactError{
			Path: s.path(ClassifierFile),
			Reason: fmt.Sprintf("classifier input size %d does not fit sequence length %d (want %d)",
				model.Classifier.InputSize, model.SequenceLength, want),
		}
	}
	return nil
}
