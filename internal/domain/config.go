package domain

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete ThreatLens configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier selects the default backing services
	Tier Tier `yaml:"tier" json:"tier"`

	// Offline stages
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Training   TrainingConfig   `yaml:"training" json:"training"`
	Prediction PredictionConfig `yaml:"prediction" json:"prediction"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts" json:"artifacts"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// PipelineConfig controls cleaning, scoring and clustering.
type PipelineConfig struct {
	InputPath string  `yaml:"inputPath" json:"inputPath"`
	Clusters  int     `yaml:"clusters" json:"clusters"`
	Seed      uint64  `yaml:"seed" json:"seed"`
	MaxIter   int     `yaml:"maxIter" json:"maxIter"`
	Tol       float64 `yaml:"tol" json:"tol"`
}

// TrainingConfig controls the severity classifier fit.
type TrainingConfig struct {
	Trees           int     `yaml:"trees" json:"trees"`
	MaxDepth        int     `yaml:"maxDepth" json:"maxDepth"`
	MinSamplesSplit int     `yaml:"minSamplesSplit" json:"minSamplesSplit"`
	TestFraction    float64 `yaml:"testFraction" json:"testFraction"`
	Seed            uint64  `yaml:"seed" json:"seed"`
	Workers         int     `yaml:"workers" json:"workers"` // 0 = GOMAXPROCS
}

// UnseenPolicy decides what happens to categorical values missing from the
// training vocabulary.
type UnseenPolicy string

const (
	// UnseenFallback encodes the value as vocabulary index 0.
	UnseenFallback UnseenPolicy = "fallback"

	// UnseenStrict rejects the record with ErrUnseenCategory.
	UnseenStrict UnseenPolicy = "strict"
)

// PredictionConfig controls the predictor.
type PredictionConfig struct {
	UnseenPolicy UnseenPolicy  `yaml:"unseenPolicy" json:"unseenPolicy"`
	CacheTTL     time.Duration `yaml:"cacheTTL" json:"cacheTTL"`
}

// ArtifactsConfig locates datasets and trained models on disk.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"` // OTLP gRPC collector
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Pipeline: PipelineConfig{
			InputPath: "Global_Cybersecurity_Threats_2015-2024.csv",
			Clusters:  4,
			Seed:      42,
			MaxIter:   300,
			Tol:       1e-4,
		},
		Training: TrainingConfig{
			Trees:           300,
			MaxDepth:        14,
			MinSamplesSplit: 4,
			TestFraction:    0.2,
			Seed:            42,
		},
		Prediction: PredictionConfig{
			UnseenPolicy: UnseenFallback,
			CacheTTL:     5 * time.Minute,
		},
		Artifacts: ArtifactsConfig{
			Dir: ".",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./threatlens.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "threatlens",
			SampleRatio: 1,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "threatlens",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}

// LoadConfig reads a YAML config file over the tier defaults and applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv("THREATLENS_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if os.Getenv("THREATLENS_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("THREATLENS_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("THREATLENS_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("THREATLENS_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("THREATLENS_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Pipeline.Clusters <= 0 {
		cfg.Pipeline.Clusters = def.Pipeline.Clusters
	}
	if cfg.Pipeline.MaxIter <= 0 {
		cfg.Pipeline.MaxIter = def.Pipeline.MaxIter
	}
	if cfg.Pipeline.Tol <= 0 {
		cfg.Pipeline.Tol = def.Pipeline.Tol
	}
	if cfg.Training.Trees <= 0 {
		cfg.Training.Trees = def.Training.Trees
	}
	if cfg.Training.MinSamplesSplit < 2 {
		cfg.Training.MinSamplesSplit = 2
	}
	if cfg.Training.TestFraction <= 0 || cfg.Training.TestFraction >= 1 {
		cfg.Training.TestFraction = def.Training.TestFraction
	}
	if cfg.Prediction.UnseenPolicy == "" {
		cfg.Prediction.UnseenPolicy = UnseenFallback
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = def.Artifacts.Dir
	}
	if cfg.Cache.LocalMaxSize <= 0 {
		cfg.Cache.LocalMaxSize = def.Cache.LocalMaxSize
	}
	if cfg.EventBus.ChannelBufferSize <= 0 {
		cfg.EventBus.ChannelBufferSize = def.EventBus.ChannelBufferSize
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Prediction.UnseenPolicy {
	case UnseenFallback, UnseenStrict:
	default:
		return fmt.Errorf("prediction.unseenPolicy: unknown policy %q", c.Prediction.UnseenPolicy)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}
