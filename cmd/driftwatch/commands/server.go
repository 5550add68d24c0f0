package commands

import (
	"context"
	"fmt"
	"net/http"

	//nolint:gosec // We are using pprof for debugging
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moolen/driftwatch/internal/anomaly"
	"github.com/moolen/driftwatch/internal/apiserver"
	"github.com/moolen/driftwatch/internal/bus"
	"github.com/moolen/driftwatch/internal/cachestore"
	"github.com/moolen/driftwatch/internal/config"
	"github.com/moolen/driftwatch/internal/ingest"
	"github.com/moolen/driftwatch/internal/lifecycle"
	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/metrics"
	"github.com/moolen/driftwatch/internal/modelstore"
	"github.com/moolen/driftwatch/internal/storage"
	"github.com/moolen/driftwatch/internal/tracing"
	"github.com/moolen/driftwatch/internal/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

var (
	configPath   string
	apiPort      int
	pprofEnabled bool
	pprofPort    int
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the driftwatch server",
	Long: `Start the driftwatch server which ingests sensor readings, scores them
against the trained model, raises alerts, and serves the REST API.`,
	Run: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML configuration file (optional, defaults plus DRIFTWATCH_* env vars apply without it)")
	serverCmd.Flags().IntVar(&apiPort, "port", 0, "Port the API server listens on (overrides the config file)")
	serverCmd.Flags().BoolVar(&pprofEnabled, "pprof-enabled", false, "Enable pprof profiling server (default: false)")
	serverCmd.Flags().IntVar(&pprofPort, "pprof-port", 9999, "Port the pprof server listens on (default: 9999)")
}

func runServer(cmd *cobra.Command, args []string) {
	// First run with a config path that does not exist yet: write the
	// defaults there so there is a file to edit.
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			defaults := config.Default()
			HandleError(config.WriteFile(configPath, &defaults), "Config file creation error")
			fmt.Printf("Created default config file: %s\n", configPath)
		}
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	HandleError(err, "Configuration error")

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = apiPort
	}

	// Setup logging
	if err := setupLog(effectiveLogFlags(cfg.Log.Level)); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("server")

	logger.Info("Starting driftwatch v%s", Version)
	logger.Debug("Configuration loaded: Port=%d WindowSize=%d ModelDir=%s", cfg.Server.Port, cfg.Window.Size, cfg.Model.Dir)

	manager := lifecycle.NewManager()

	// Initialize tracing provider
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCA,
		TLSInsecure: cfg.Tracing.TLSInsecure,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
		tracingProvider = nil
	}

	// Register tracing provider (no dependencies)
	if tracingProvider != nil {
		if err := manager.Register(tracingProvider); err != nil {
			logger.Error("Failed to register tracing provider: %v", err)
			HandleError(err, "Tracing registration error")
		}
	}

	// Start pprof server if enabled
	if pprofEnabled {
		go func() {
			pprofAddr := fmt.Sprintf(":%d", pprofPort)
			logger.Info("Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil { //nolint:gosec // We are using pprof for debugging
				logger.Error("pprof server failed: %v", err)
			}
		}()
	}

	// Initialize the reading store. Without a database URL readings are
	// kept in memory and lost on restart.
	var store storage.Store
	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgres(cfg.Database.URL, storage.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("Failed to connect to database: %v", err)
			HandleError(err, "Database error")
		}
		if err := pg.Migrate(context.Background()); err != nil {
			logger.Error("Failed to apply database schema: %v", err)
			HandleError(err, "Database migration error")
		}
		store = pg
		logger.Info("Using Postgres reading store")
	} else {
		store = storage.NewMemory()
		logger.Warn("No database configured, readings are kept in memory only")
	}

	// Optional remote window cache, shared across replicas
	var remoteCache cachestore.Cache
	if cfg.Redis.Enabled {
		remoteCache, err = cachestore.NewRedis(cfg.Redis.URL, cfg.Window.CacheTTL)
		if err != nil {
			logger.Error("Failed to connect to redis: %v", err)
			HandleError(err, "Redis error")
		}
		logger.Info("Window cache backed by redis at %s", cfg.Redis.URL)
	}

	windows := window.New(window.Config{
		Size:         cfg.Window.Size,
		Capacity:     cfg.Window.MaxPoints,
		Horizon:      cfg.Window.Horizon,
		CacheTTL:     cfg.Window.CacheTTL,
		StoreTimeout: cfg.Window.StoreTimeout,
	}, store, remoteCache)

	factory := anomaly.NewAlertFactory(anomaly.SeverityPolicy{
		Medium:   cfg.Alerting.Severity.Medium,
		High:     cfg.Alerting.Severity.High,
		Critical: cfg.Alerting.Severity.Critical,
	}, cfg.Alerting.DecisionBoundary, cfg.Alerting.Confidence)
	detector := anomaly.NewDetector(factory, cfg.Window.Size)

	// Event publishers: kafka and redis pub/sub, fanned out when both are on
	var publishers []bus.Publisher
	if cfg.Kafka.Enabled {
		publishers = append(publishers, bus.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.ReadingTopic, cfg.Kafka.AlertTopic))
		logger.Info("Publishing events to kafka brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Enabled {
		redisPublisher, err := bus.NewRedisPublisher(cfg.Redis.URL, "", "")
		if err != nil {
			logger.Error("Failed to create redis publisher: %v", err)
			HandleError(err, "Redis publisher error")
		}
		publishers = append(publishers, redisPublisher)
		logger.Info("Publishing events to redis channels")
	}
	var publisher bus.Publisher
	switch len(publishers) {
	case 0:
		// The pipeline falls back to a no-op publisher.
	case 1:
		publisher = publishers[0]
	default:
		publisher = bus.NewFanout(publishers...)
	}

	artifacts, err := modelstore.New(cfg.Model.Dir)
	if err != nil {
		logger.Error("Failed to open model store: %v", err)
		HandleError(err, "Model store error")
	}

	registry := prometheus.NewRegistry()
	metrics.RegisterWindowStats(registry, windows.Stats)

	var tracer trace.Tracer
	if tracingProvider != nil {
		tracer = tracingProvider.Tracer("driftwatch.ingest")
	}

	pipeline, err := ingest.New(ingest.Config{
		PublishTimeout: cfg.Alerting.PublishTimeout,
		ScoreHorizon:   cfg.Window.Horizon,
		MinAccuracy:    cfg.Training.MinAccuracy,
		Training:       trainingConfig(cfg),
	}, ingest.Deps{
		Store:     store,
		Windows:   windows,
		Detector:  detector,
		Publisher: publisher,
		Artifacts: artifacts,
		Metrics:   metrics.NewMetrics(registry),
		Tracer:    tracer,
	})
	if err != nil {
		logger.Error("Failed to build ingest pipeline: %v", err)
		HandleError(err, "Ingest pipeline error")
	}

	// Load the persisted model if there is one. Without it the server
	// starts degraded: readings are accepted and windowed, scoring waits
	// for the first training run or a model dropped into the artifact dir.
	if model, err := artifacts.Load(); err == nil {
		if err := pipeline.SwapModel(model); err != nil {
			logger.Error("Failed to activate persisted model: %v", err)
			HandleError(err, "Model activation error")
		}
		logger.Info("Serving model %s trained at %s", model.Version, model.TrainedAt.Format(time.RFC3339))
	} else {
		logger.Warn("No usable model in %s, scoring disabled until a training run completes: %v", cfg.Model.Dir, err)
	}

	if err := manager.Register(pipeline); err != nil {
		logger.Error("Failed to register ingest pipeline: %v", err)
		HandleError(err, "Ingest registration error")
	}

	// Hot-swap the serving model when the artifacts change on disk
	if cfg.Model.Watch {
		watcher, err := modelstore.NewWatcher(artifacts, modelstore.WatcherConfig{}, pipeline.SwapModel)
		if err != nil {
			logger.Error("Failed to create model watcher: %v", err)
			HandleError(err, "Model watcher error")
		}
		if err := manager.Register(watcher, pipeline); err != nil {
			logger.Error("Failed to register model watcher: %v", err)
			HandleError(err, "Model watcher registration error")
		}
	}

	apiComponent, err := apiserver.New(apiserver.Config{
		Port:                  cfg.Server.Port,
		MaxConcurrentRequests: cfg.Server.MaxConcurrentRequests,
	}, apiserver.Deps{
		Store:    store,
		Pipeline: pipeline,
		Gatherer: registry,
	})
	if err != nil {
		logger.Error("Failed to create API server: %v", err)
		HandleError(err, "API server error")
	}
	if err := manager.Register(apiComponent, pipeline); err != nil {
		logger.Error("Failed to register API server component: %v", err)
		HandleError(err, "API server registration error")
	}

	logger.Info("All components registered with dependencies")
	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		logger.Error("Failed to start components: %v", err)
		HandleError(err, "Startup error")
	}

	logger.Info("Application started successfully")
	logger.Info("Listening for readings and API requests on port %d", cfg.Server.Port)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}

	// The publisher and store are not lifecycle components, close them
	// once everything that writes through them has stopped.
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close publisher: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("Failed to close store: %v", err)
	}

	logger.Info("Shutdown complete")
}

// trainingConfig maps the file configuration onto the training pipeline.
// The sequence length always matches the serving window size, a model
// trained on a different shape would be rejected at scoring time anyway.
func trainingConfig(cfg *config.Config) anomaly.TrainingConfig {
	return anomaly.TrainingConfig{
		SequenceLength: cfg.Window.Size,
		RollingWindow:  cfg.Window.Size,
		TestSplit:      cfg.Training.TestSplit,
		Seed:           cfg.Training.Seed,
		Epochs:         cfg.Training.Epochs,
		BatchSize:      cfg.Training.BatchSize,
		Patience:       cfg.Training.Patience,
		LearningRate:   cfg.Training.LearningRate,
		HiddenLayers:   cfg.Training.HiddenLayers,
	}
}
