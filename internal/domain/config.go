package domain

import (
	"fmt"
)

// Config holds the complete FraudGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Model      ModelConfig      `json:"model" mapstructure:"model"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// ModelConfig controls where the trained model comes from and how it is trained.
type ModelConfig struct {
	// Path of the artifact file. Loaded at startup and rewritten after training.
	Path string `json:"path" mapstructure:"path"`

	// TrainingData is a labeled CSV used to train at startup when no artifact exists.
	TrainingData string `json:"trainingData" mapstructure:"training_data"`

	Trees        int    `json:"trees" mapstructure:"trees"`
	Seed         uint64 `json:"seed" mapstructure:"seed"`
	TimeFeatures bool   `json:"timeFeatures" mapstructure:"time_features"`
}

// WorkerConfig controls the async assessment worker.
type WorkerConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	TenantIDs []string `json:"tenantIds" mapstructure:"tenant_ids"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`

	// Endpoint of the OTLP/gRPC collector, host:port or a URL.
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
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
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			TTL:          300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Model: ModelConfig{
			Path:  "./model/fraud_model.fgm",
			Trees: 100,
			Seed:  42,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudguard",
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
		PostgresDB:   "fraudguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		TTL:            300,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", c.EventBus.Type)
	}
	if c.Model.Trees < 0 {
		return fmt.Errorf("model trees must not be negative: %d", c.Model.Trees)
	}
	return nil
}
