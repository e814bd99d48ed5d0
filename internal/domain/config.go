package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Shrike configuration. Components receive
// their sub-config by value at construction time; nothing reads
// configuration globally.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Features FeaturesConfig `yaml:"features"`
	Models   ModelsConfig   `yaml:"models"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Store    StoreConfig    `yaml:"store"`
	EventBus EventBusConfig `yaml:"eventBus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// FeaturesConfig selects the enabled extractors, their feature toggles
// and the grouped aggregations appended by the feature engineer.
type FeaturesConfig struct {
	Behavioral ExtractorConfig `yaml:"behavioral"`
	Network    ExtractorConfig `yaml:"network"`
	Temporal   ExtractorConfig `yaml:"temporal"`

	// Aggregations lists the per-session statistics merged back onto
	// every row: any of mean, std, min, max, median.
	Aggregations []string `yaml:"aggregations"`
}

// ExtractorConfig enables one extractor and selects its features.
type ExtractorConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Features []string `yaml:"features"`
}

// ModelsConfig configures the trainer and every detector adapter.
type ModelsConfig struct {
	// Dir is the model store directory, one artifact per detector name.
	Dir string `yaml:"dir"`

	// Enabled lists the detectors trained by TrainAll.
	Enabled []string `yaml:"enabled"`

	// ScorePercentile is the percentile of the training-score
	// distribution at which each detector freezes its threshold.
	ScorePercentile float64 `yaml:"scorePercentile"`

	// MaxParallel bounds concurrent detector fits in TrainAll.
	MaxParallel int `yaml:"maxParallel"`

	IsolationForest IsolationForestConfig `yaml:"isolationForest"`
	OneClassSVM     OneClassSVMConfig     `yaml:"oneClassSvm"`
	Autoencoder     AutoencoderConfig     `yaml:"autoencoder"`
	Sequence        SequenceConfig        `yaml:"sequence"`
}

// IsolationForestConfig holds isolation forest hyperparameters.
type IsolationForestConfig struct {
	Trees         int     `yaml:"trees"`
	SampleSize    int     `yaml:"sampleSize"`
	Contamination float64 `yaml:"contamination"`
	Seed          int64   `yaml:"seed"`
}

// OneClassSVMConfig holds one-class SVM hyperparameters.
type OneClassSVMConfig struct {
	// Nu is the expected fraction of training outliers; it sets the
	// boundary radius percentile.
	Nu float64 `yaml:"nu"`
}

// AutoencoderConfig holds autoencoder hyperparameters.
type AutoencoderConfig struct {
	HiddenUnits  int     `yaml:"hiddenUnits"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learningRate"`
	Seed         int64   `yaml:"seed"`
}

// SequenceConfig holds the sequence predictor hyperparameters.
type SequenceConfig struct {
	// Window is the sliding-window length; the first Window rows of any
	// batch are labeled normal because no full window precedes them.
	Window int `yaml:"window"`
}

// Ensemble combination methods.
const (
	MethodVoting   = "voting"
	MethodWeighted = "weighted"
)

// EnsembleConfig configures the ensemble detector.
type EnsembleConfig struct {
	// Method selects the combination rule: voting or weighted.
	Method string `yaml:"method"`

	// Weights are per-detector weights for the weighted method.
	// Detectors without an entry default to 1.0.
	Weights map[string]float64 `yaml:"weights"`

	// RequireModels makes Detect fail instead of returning a degraded
	// all-normal verdict when the registry is empty.
	RequireModels bool `yaml:"requireModels"`

	// MaxParallel bounds concurrent detector evaluations per batch.
	MaxParallel int `yaml:"maxParallel"`
}

// StoreConfig configures the feature store database.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // sqlite or postgres
	SQLitePath string `yaml:"sqlitePath"`

	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`
}

// DefaultConfig returns the default local configuration: all extractors
// on, two fast detectors enabled, majority voting, SQLite feature store
// and in-process channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Features: FeaturesConfig{
			Behavioral: ExtractorConfig{
				Enabled: true,
				Features: []string{
					"failed_login_count",
					"privilege_escalation_attempts",
					"unique_resources_accessed",
					"session_duration",
					"action_frequency",
				},
			},
			Network: ExtractorConfig{
				Enabled: true,
				Features: []string{
					"bytes_transferred",
					"connection_count",
					"unique_destinations",
					"port_scan_indicators",
					"lateral_movement_score",
				},
			},
			Temporal: ExtractorConfig{
				Enabled: true,
				Features: []string{
					"hour_of_day",
					"day_of_week",
					"is_business_hours",
					"time_since_last_action",
					"action_velocity",
				},
			},
			Aggregations: []string{"mean", "std", "max"},
		},
		Models: ModelsConfig{
			Dir:             "models",
			Enabled:         []string{KindIsolationForest, KindOneClassSVM},
			ScorePercentile: 95,
			MaxParallel:     4,
			IsolationForest: IsolationForestConfig{
				Trees:         100,
				SampleSize:    256,
				Contamination: 0.1,
				Seed:          42,
			},
			OneClassSVM: OneClassSVMConfig{Nu: 0.1},
			Autoencoder: AutoencoderConfig{
				HiddenUnits:  16,
				Epochs:       50,
				LearningRate: 0.01,
				Seed:         42,
			},
			Sequence: SequenceConfig{Window: 10},
		},
		Ensemble: EnsembleConfig{
			Method:      MethodVoting,
			Weights:     map[string]float64{},
			MaxParallel: 4,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// knownAggregations are the grouped statistics the feature engineer
// understands.
var knownAggregations = map[string]bool{
	"mean":   true,
	"std":    true,
	"min":    true,
	"max":    true,
	"median": true,
}

// knownDetectors are the kinds the adapter factory handles.
var knownDetectors = map[string]bool{
	KindIsolationForest: true,
	KindOneClassSVM:     true,
	KindAutoencoder:     true,
	KindSequence:        true,
}

// Validate fails fast on configuration errors before any computation
// starts: unknown detector names, unknown combination methods, unknown
// aggregations.
func (c *Config) Validate() error {
	for _, name := range c.Models.Enabled {
		if !knownDetectors[name] {
			return fmt.Errorf("%w: %s", ErrUnknownDetector, name)
		}
	}
	for name := range c.Ensemble.Weights {
		if !knownDetectors[name] {
			return fmt.Errorf("%w: weight for %s", ErrUnknownDetector, name)
		}
	}
	switch c.Ensemble.Method {
	case MethodVoting, MethodWeighted:
	default:
		return fmt.Errorf("unknown ensemble method: %s", c.Ensemble.Method)
	}
	for _, agg := range c.Features.Aggregations {
		if !knownAggregations[agg] {
			return fmt.Errorf("unknown aggregation: %s", agg)
		}
	}
	if c.Models.ScorePercentile <= 0 || c.Models.ScorePercentile >= 100 {
		return fmt.Errorf("scorePercentile must be in (0, 100), got %v", c.Models.ScorePercentile)
	}
	return nil
}
