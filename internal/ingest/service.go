// Package ingest owns the reading pipeline: durable write, window
// maintenance, asynchronous anomaly scoring, alerting, and training.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/bus"
	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/metrics"
	"github.com/moolen/driftwatch/internal/models"
	"github.com/moolen/driftwatch/internal/modelstore"
	"github.com/moolen/driftwatch/internal/storage"
	"github.com/moolen/driftwatch/internal/window"
)

// Defaults for the pipeline configuration.
const (
	DefaultShards         = 8
	DefaultQueueDepth     = 256
	DefaultPublishTimeout = 2 * time.Second
	DefaultCorpusLimit    = 100000
	DefaultMinAccuracy    = 0.95
)

// updateTimeout bounds the store writes done from a scoring lane.
const updateTimeout = 5 * time.Second

// Config tunes the ingest pipeline.
type Config struct {
	// Shards is the number of scoring lanes. Readings of one sensor always
	// take the same lane, preserving their arrival order.
	Shards int
	// QueueDepth bounds each lane. A full lane drops the scoring work,
	// never the ingestion.
	QueueDepth int
	// PublishTimeout bounds each best-effort broker publish.
	PublishTimeout time.Duration
	// ScoreHorizon is the window lookback used for scoring. Zero means
	// the window cache default.
	ScoreHorizon time.Duration
	// MinAccuracy is the training quality gate. A run scoring below it on
	// the held-out split is discarded: not persisted, not swapped in.
	MinAccuracy float64
	// CorpusSince restricts training to recent readings. Zero means the
	// whole corpus.
	CorpusSince time.Duration
	// CorpusLimit bounds the training corpus size.
	CorpusLimit int
	// Training is handed to the training pipeline.
	Training anomaly.TrainingConfig
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.MinAccuracy <= 0 {
		c.MinAccuracy = DefaultMinAccuracy
	}
	if c.CorpusLimit <= 0 {
		c.CorpusLimit = DefaultCorpusLimit
	}
	return c
}

// Deps are the collaborators of the Service.
type Deps struct {
	Store    storage.Store
	Windows  *window.Cache
	Detector *anomaly.Detector
	// Publisher receives accepted readings and raised alerts. Nil means
	// publishing is disabled.
	Publisher bus.Publisher
	// Artifacts persists trained models. Nil disables persistence, the
	// trained model then only lives in this process.
	Artifacts *modelstore.Store
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// Service is the ingest pipeline. It implements lifecycle.Component.
type Service struct {
	cfg        Config
	store      storage.Store
	windows    *window.Cache
	detector   *anomaly.Detector
	publisher  bus.Publisher
	artifacts  *modelstore.Store
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	dispatcher *dispatcher
	logger     *logging.Logger
}

// New wires the pipeline. Store, Windows, Detector and Metrics are
// required.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Windows == nil {
		return nil, fmt.Errorf("window cache is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = bus.Noop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.GetTracerProvider().Tracer("driftwatch/ingest")
	}

	s := &Service{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		windows:   deps.Windows,
		detector:  deps.Detector,
		publisher: deps.Publisher,
		artifacts: deps.Artifacts,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    logging.GetLogger("ingest"),
	}
	s.dispatcher = newDispatcher(s.cfg.Shards, s.cfg.QueueDepth, s.process, deps.Metrics)
	return s, nil
}

// Ingest validates and durably stores a reading, updates the sensor's
// window, and schedules asynchronous scoring. The durable write is the
// only failure mode: scoring, publishing and alerting degrade without
// failing ingestion.
func (s *Service) Ingest(ctx context.Context, reading *models.Reading) error {
	if err := reading.Validate(); err != nil {
		return err
	}
	reading.Timestamp = reading.Timestamp.UTC()

	if err := s.store.SaveReading(ctx, reading); err != nil {
		return fmt.Errorf("persist reading: %w", err)
	}
	s.windows.Append(ctx, *reading)
	s.metrics.ReadingsIngested.WithLabelValues(reading.SensorType).Inc()

	s.dispatcher.enqueue(*reading)
	return nil
}

// process runs on a scoring lane: publish the reading, produce a verdict,
// persist it, and raise an alert when warranted.
func (s *Service) process(reading models.Reading) {
	ctx, span := s.tracer.Start(context.Background(), "ingest.process",
		trace.WithAttributes(
			attribute.String("sensor_id", reading.SensorID),
		),
	)
	defer span.End()

	s.publishReading(ctx, reading)

	start := time.Now()
	verdict, err := s.score(ctx, reading)
	s.metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, anomaly.ErrModelNotLoaded) {
			s.logger.Debug("no model loaded, reading %d from %s left unscored", reading.ID, reading.SensorID)
			return
		}
		span.SetStatus(codes.Error, "scoring failed")
		s.logger.Warn("scoring reading %d from %s failed: %v", reading.ID, reading.SensorID, err)
		return
	}
	span.SetAttributes(
		attribute.Float64("probability", verdict.Probability),
		attribute.Bool("is_anomaly", verdict.IsAnomaly),
	)

	updCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	if err := s.store.UpdateReadingAnomaly(updCtx, reading.ID, verdict.IsAnomaly, verdict.Probability); err != nil {
		s.logger.Warn("failed to update anomaly status of reading %d: %v", reading.ID, err)
	}
	cancel()

	if verdict.IsAnomaly {
		s.metrics.AnomaliesDetected.WithLabelValues(string(verdict.Severity)).Inc()
	}
	if verdict.Alert != nil {
		s.raiseAlert(ctx, verdict.Alert)
	}
}

func (s *Service) score(ctx context.Context, reading models.Reading) (*anomaly.Verdict, error) {
	history, err := s.windows.GetWindow(ctx, reading.SensorID, s.cfg.ScoreHorizon)
	if err != nil {
		return nil, err
	}
	return s.detector.Evaluate(reading, trimAfter(history, reading.Timestamp))
}

// trimAfter cuts window entries newer than the reading being scored, so a
// verdict always describes the sequence ending at its own reading. Later
// readings of the same sensor may already sit in the window when scoring
// lags ingestion.
func trimAfter(history []models.Reading, ts time.Time) []models.Reading {
	cut := len(history)
	for cut > 0 && history[cut-1].Timestamp.After(ts) {
		cut--
	}
	return history[:cut]
}

func (s *Service) publishReading(ctx context.Context, reading models.Reading) {
	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if err := s.publisher.PublishReading(pubCtx, &reading); err != nil {
		s.metrics.PublishFailures.WithLabelValues("readings").Inc()
		s.logger.Warn("failed to publish reading %d from %s: %v", reading.ID, reading.SensorID, err)
	}
}

func (s *Service) raiseAlert(ctx context.Context, alert *models.Alert) {
	saveCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	if err := s.store.SaveAlert(saveCtx, alert); err != nil {
		s.logger.Error("failed to persist %s alert for sensor %s: %v", alert.Severity, alert.SensorID, err)
	}

	pubCtx, pubCancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer pubCancel()
	if err := s.publisher.PublishAlert(pubCtx, alert); err != nil {
		s.metrics.PublishFailures.WithLabelValues("alerts").Inc()
		s.logger.Warn("failed to publish alert for sensor %s: %v", alert.SensorID, err)
	}

	s.logger.Info("%s alert raised for sensor %s (probability %.4f)", alert.Severity, alert.SensorID, alert.Probability)
}

// ScoreNow evaluates the sensor's newest reading on demand. It never
// persists a verdict or raises an alert. Unknown sensors map to
// storage.ErrNotFound.
func (s *Service) ScoreNow(ctx context.Context, sensorID string) (*anomaly.Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.scoreNow",
		trace.WithAttributes(attribute.String("sensor_id", sensorID)),
	)
	defer span.End()

	history, err := s.windows.GetWindow(ctx, sensorID, s.cfg.ScoreHorizon)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(history) == 0 {
		return nil, storage.ErrNotFound
	}
	verdict, err := s.detector.Evaluate(history[len(history)-1], history)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return verdict, nil
}

// Train rebuilds the model from the labeled corpus. A run that fails the
// accuracy gate is discarded whole: artifacts stay untouched and the
// previous model keeps serving.
func (s *Service) Train(ctx context.Context) (*anomaly.TrainedModel, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.train")
	defer span.End()

	var since time.Time
	if s.cfg.CorpusSince > 0 {
		since = time.Now().Add(-s.cfg.CorpusSince)
	}
	corpus, err := s.store.LoadLabeledCorpus(ctx, since, s.cfg.CorpusLimit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load training corpus: %w", err)
	}
	s.logger.Info("training on %d labeled readings", len(corpus))

	model, err := anomaly.Train(ctx, corpus, s.cfg.Training)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "training failed")
		return nil, err
	}

	if !model.MeetsQualityGate(s.cfg.MinAccuracy) {
		err := &anomaly.QualityGateError{Metrics: model.Metrics, MinAccuracy: s.cfg.MinAccuracy}
		span.RecordError(err)
		span.SetStatus(codes.Error, "quality gate failed")
		s.logger.Warn("discarding model %s: %v", model.Version, err)
		return nil, err
	}

	if s.artifacts != nil {
		if err := s.artifacts.Save(model); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("persist model artifacts: %w", err)
		}
	}
	s.detector.SwapModel(model)

	span.SetAttributes(
		attribute.String("model_version", model.Version),
		attribute.Float64("accuracy", model.Metrics.Accuracy),
	)
	s.logger.Info("model %s now serving (accuracy %.4f, %d samples)",
		model.Version, model.Metrics.Accuracy, model.Samples)
	return model, nil
}

// SwapModel installs a model loaded elsewhere, typically by the artifact
// watcher.
func (s *Service) SwapModel(model *anomaly.TrainedModel) error {
	if model == nil {
		return fmt.Errorf("cannot swap in nil model")
	}
	s.detector.SwapModel(model)
	return nil
}

// Ready reports whether a model is loaded for scoring.
func (s *Service) Ready() bool {
	return s.detector.Ready()
}

// ModelInfo describes the serving model.
func (s *Service) ModelInfo() (models.ModelInfo, bool) {
	m := s.detector.Model()
	if m == nil {
		return models.ModelInfo{}, false
	}
	return m.Info(), true
}

// Name implements lifecycle.Component.
func (s *Service) Name() string {
	return "ingest-service"
}

// Start implements lifecycle.Component. It launches the scoring lanes.
func (s *Service) Start(ctx context.Context) error {
	s.dispatcher.start()
	s.logger.Info("ingest pipeline started (%d scoring lanes, depth %d)", s.cfg.Shards, s.cfg.QueueDepth)
	return nil
}

// Stop implements lifecycle.Component. It drains the scoring lanes.
func (s *Service) Stop(ctx context.Context) error {
	return s.dispatcher.stop(ctx)
}
