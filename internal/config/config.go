// Package config loads the driftwatch configuration from YAML with
// DRIFTWATCH_ environment overrides layered on top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the environment overrides. Nested keys use a
// double underscore: DRIFTWATCH_SERVER__PORT maps to server.port.
const envPrefix = "DRIFTWATCH_"

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Window   WindowConfig   `yaml:"window"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Alerting AlertingConfig `yaml:"alerting"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	Port                  int `yaml:"port"`
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
}

// LogConfig tunes logging.
type LogConfig struct {
	// Level is the default level: debug, info, warn or error.
	Level string `yaml:"level"`
}

// DatabaseConfig configures the Postgres store. An empty URL selects the
// in-memory store, which keeps nothing across restarts.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the redis cache and pub/sub fan-out.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// KafkaConfig configures the kafka event streams.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ReadingTopic string   `yaml:"reading_topic"`
	AlertTopic   string   `yaml:"alert_topic"`
	Enabled      bool     `yaml:"enabled"`
}

// WindowConfig tunes the per-sensor reading windows.
type WindowConfig struct {
	// Size is the sequence length the classifier consumes; windows with
	// fewer readings score as insufficient history.
	Size int `yaml:"size"`
	// Horizon is how far back a window reaches.
	Horizon time.Duration `yaml:"horizon"`
	// CacheTTL is the lifetime of write-through cache entries.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// StoreTimeout bounds window rehydration from the database.
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// MaxPoints caps the buffered readings per sensor.
	MaxPoints int `yaml:"max_points"`
}

// ModelConfig locates the model artifacts.
type ModelConfig struct {
	Dir string `yaml:"dir"`
	// Watch hot-swaps the serving model when the artifacts change on disk.
	Watch bool `yaml:"watch"`
}

// TrainingConfig tunes the training pipeline.
type TrainingConfig struct {
	TestSplit    float64 `yaml:"test_split"`
	Seed         int64   `yaml:"seed"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	Patience     int     `yaml:"patience"`
	LearningRate float64 `yaml:"learning_rate"`
	HiddenLayers []int   `yaml:"hidden_layers"`
	// MinAccuracy is the quality gate; runs scoring below it on the
	// held-out split are discarded.
	MinAccuracy float64 `yaml:"min_accuracy"`
}

// AlertingConfig tunes anomaly decisions and alert emission.
type AlertingConfig struct {
	DecisionBoundary float64        `yaml:"decision_boundary"`
	Confidence       float64        `yaml:"confidence"`
	PublishTimeout   time.Duration  `yaml:"publish_timeout"`
	Severity         SeverityConfig `yaml:"severity"`
}

// SeverityConfig holds the probability floors of the severity tiers.
// Everything below Medium is low.
type SeverityConfig struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCA       string `yaml:"tls_ca"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:                  8080,
			MaxConcurrentRequests: 100,
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{URL: "redis://localhost:6379"},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			ReadingTopic: "sensor-data",
			AlertTopic:   "anomaly-alerts",
		},
		Window: WindowConfig{
			Size:         24,
			Horizon:      24 * time.Hour,
			CacheTTL:     5 * time.Minute,
			StoreTimeout: 2 * time.Second,
			MaxPoints:    288,
		},
		Model: ModelConfig{
			Dir:   "./models",
			Watch: true,
		},
		Training: TrainingConfig{
			TestSplit:    0.2,
			Seed:         42,
			Epochs:       100,
			BatchSize:    32,
			Patience:     10,
			LearningRate: 0.001,
			HiddenLayers: []int{32, 16},
			MinAccuracy:  0.95,
		},
		Alerting: AlertingConfig{
			DecisionBoundary: 0.5,
			Confidence:       0.70,
			PublishTimeout:   2 * time.Second,
			Severity: SeverityConfig{
				Medium:   0.6,
				High:     0.8,
				Critical: 0.9,
			},
		},
		Tracing: TracingConfig{Endpoint: "localhost:4317"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// one is given, then DRIFTWATCH_ environment variables. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", normalizeEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeEnvKey turns DRIFTWATCH_WINDOW__CACHE_TTL into window.cache_ttl.
func normalizeEnvKey(name string) string {
	name = strings.TrimPrefix(name, envPrefix)
	name = strings.ToLower(name)
	return strings.ReplaceAll(name, "__", ".")
}

// validLogLevels names the accepted log.level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewConfigError("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentRequests < 1 {
		return NewConfigError("server.max_concurrent_requests must be at least 1")
	}
	if !validLogLevels[c.Log.Level] {
		return NewConfigError("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	if c.Database.MaxOpenConns < 1 {
		return NewConfigError("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return NewConfigError("database.max_idle_conns must be between 0 and database.max_open_conns")
	}
	if c.Database.ConnMaxLifetime <= 0 {
		return NewConfigError("database.conn_max_lifetime must be positive")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return NewConfigError("redis.url must be set when redis is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return NewConfigError("kafka.brokers must be set when kafka is enabled")
	}

	if c.Window.Size < 2 {
		return NewConfigError("window.size must be at least 2, got %d", c.Window.Size)
	}
	if c.Window.MaxPoints < c.Window.Size {
		return NewConfigError("window.max_points must be at least window.size")
	}
	if c.Window.Horizon <= 0 {
		return NewConfigError("window.horizon must be positive")
	}
	if c.Window.CacheTTL <= 0 {
		return NewConfigError("window.cache_ttl must be positive")
	}
	if c.Window.StoreTimeout <= 0 {
		return NewConfigError("window.store_timeout must be positive")
	}

	if c.Model.Dir == "" {
		return NewConfigError("model.dir must not be empty")
	}

	if c.Training.TestSplit <= 0 || c.Training.TestSplit >= 1 {
		return NewConfigError("training.test_split must be in (0, 1), got %g", c.Training.TestSplit)
	}
	if c.Training.Epochs < 1 {
		return NewConfigError("training.epochs must be at least 1")
	}
	if c.Training.BatchSize < 1 {
		return NewConfigError("training.batch_size must be at least 1")
	}
	if c.Training.Patience < 1 {
		return NewConfigError("training.patience must be at least 1")
	}
	if c.Training.LearningRate <= 0 {
		return NewConfigError("training.learning_rate must be positive")
	}
	for _, width := range c.Training.HiddenLayers {
		if width < 1 {
			return NewConfigError("training.hidden_layers must all be at least 1, got %d", width)
		}
	}
	if c.Training.MinAccuracy <= 0 || c.Training.MinAccuracy > 1 {
		return NewConfigError("training.min_accuracy must be in (0, 1], got %g", c.Training.MinAccuracy)
	}

	if c.Alerting.DecisionBoundary <= 0 || c.Alerting.DecisionBoundary >= 1 {
		return NewConfigError("alerting.decision_boundary must be in (0, 1), got %g", c.Alerting.DecisionBoundary)
	}
	if c.Alerting.Confidence <= 0 || c.Alerting.Confidence >= 1 {
		return NewConfigError("alerting.confidence must be in (0, 1), got %g", c.Alerting.Confidence)
	}
	if c.Alerting.PublishTimeout <= 0 {
		return NewConfigError("alerting.publish_timeout must be positive")
	}
	sev := c.Alerting.Severity
	if sev.Medium <= 0 || sev.Medium > sev.High || sev.High > sev.Critical || sev.Critical > 1 {
		return NewConfigError("alerting.severity tiers must satisfy 0 < medium <= high <= critical <= 1")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	return nil
}
