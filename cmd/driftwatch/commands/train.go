package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/config"
	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/models"
	"github.com/moolen/driftwatch/internal/modelstore"
	"github.com/moolen/driftwatch/internal/storage"
	"github.com/spf13/cobra"
)

var (
	trainConfigPath string
	corpusPath      string
	modelDir        string
	corpusSince     time.Duration
	corpusLimit     int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model from a labeled corpus",
	Long: `Train a classifier from a labeled corpus and write its artifacts to the
model directory. The corpus comes from a JSON file (see the gendata
command) or, without --corpus, from the configured database. A running
server with model.watch enabled picks the new artifacts up immediately.`,
	Run: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainConfigPath, "config", "", "Path to the YAML configuration file")
	trainCmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to a JSON corpus file. If empty, the corpus is loaded from the configured database")
	trainCmd.Flags().StringVar(&modelDir, "model-dir", "", "Directory for the model artifacts (overrides the config file)")
	trainCmd.Flags().DurationVar(&corpusSince, "since", 0, "Only train on database readings newer than this age, e.g. 720h (0 = everything)")
	trainCmd.Flags().IntVar(&corpusLimit, "limit", 0, "Cap the database corpus at this many readings (0 = no cap)")
}

func runTrain(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(trainConfigPath)
	HandleError(err, "Configuration error")

	if err := setupLog(effectiveLogFlags(cfg.Log.Level)); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("train")

	if modelDir != "" {
		cfg.Model.Dir = modelDir
	}

	corpus, err := loadCorpus(cfg)
	HandleError(err, "Corpus error")
	logger.Info("Loaded corpus: %d readings, %d labeled anomalous", len(corpus), countAnomalous(corpus))

	start := time.Now()
	model, err := anomaly.Train(context.Background(), corpus, trainingConfig(cfg))
	HandleError(err, "Training error")

	logger.Info("Training finished in %s", time.Since(start).Round(time.Millisecond))
	logger.Info("Model %s: accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f",
		model.Version, model.Metrics.Accuracy, model.Metrics.Precision, model.Metrics.Recall, model.Metrics.F1)

	if !model.MeetsQualityGate(cfg.Training.MinAccuracy) {
		HandleError(fmt.Errorf("accuracy %.4f is below the quality gate %.4f, artifacts not written",
			model.Metrics.Accuracy, cfg.Training.MinAccuracy), "Quality gate failed")
	}

	artifacts, err := modelstore.New(cfg.Model.Dir)
	HandleError(err, "Model store error")
	HandleError(artifacts.Save(model), "Failed to write artifacts")

	logger.Info("Artifacts for model %s written to %s", model.Version, cfg.Model.Dir)
}

// loadCorpus reads the training corpus, either from a JSON file or from
// the configured database.
func loadCorpus(cfg *config.Config) ([]models.LabeledReading, error) {
	if corpusPath != "" {
		data, err := os.ReadFile(corpusPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file: %w", err)
		}
		var corpus []models.LabeledReading
		if err := json.Unmarshal(data, &corpus); err != nil {
			return nil, fmt.Errorf("failed to parse corpus file %q: %w", corpusPath, err)
		}
		return corpus, nil
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no --corpus file given and no database configured")
	}

	store, err := storage.NewPostgres(cfg.Database.URL, storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var since time.Time
	if corpusSince > 0 {
		since = time.Now().UTC().Add(-corpusSince)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return store.LoadLabeledCorpus(ctx, since, corpusLimit)
}

func countAnomalous(corpus []models.LabeledReading) int {
	n := 0
	for _, labeled := range corpus {
		if labeled.Label {
			n++
		}
	}
	return n
}
