// Package config loads FraudGuard configuration from defaults, an optional
// config file, a .env file and FRAUDGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "FRAUDGUARD"

// Load builds the configuration. Precedence, highest first: environment,
// config file at path (if non-empty), tier defaults.
// DATABASE_URL overrides the repository settings when set.
func Load(path string) (*domain.Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		applyDatabaseURL(&cfg.Repository, url)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDatabaseURL selects postgres for postgres:// URLs and treats anything
// else as a sqlite path, accepting the sqlite:/// form.
func applyDatabaseURL(rc *domain.RepositoryConfig, url string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		rc.Driver = "postgres"
		rc.PostgresURL = url
	default:
		rc.Driver = "sqlite"
		rc.SQLitePath = strings.TrimPrefix(url, "sqlite:///")
	}
}

func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("tier", string(cfg.Tier))

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	r := cfg.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlite_path", r.SQLitePath)
	v.SetDefault("repository.postgres_url", r.PostgresURL)
	v.SetDefault("repository.postgres_host", r.PostgresHost)
	v.SetDefault("repository.postgres_port", r.PostgresPort)
	v.SetDefault("repository.postgres_user", r.PostgresUser)
	v.SetDefault("repository.postgres_password", r.PostgresPassword)
	v.SetDefault("repository.postgres_db", r.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", r.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", r.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", r.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", r.ConnMaxLifetime)

	c := cfg.Cache
	v.SetDefault("cache.type", c.Type)
	v.SetDefault("cache.local_max_size", c.LocalMaxSize)
	v.SetDefault("cache.ttl", c.TTL)
	v.SetDefault("cache.redis_addr", c.RedisAddr)
	v.SetDefault("cache.redis_password", c.RedisPassword)
	v.SetDefault("cache.redis_db", c.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.EnableTwoPhase)

	b := cfg.EventBus
	v.SetDefault("eventbus.type", b.Type)
	v.SetDefault("eventbus.channel_buffer_size", b.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", b.NATSUrl)
	v.SetDefault("eventbus.nats_token", b.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", b.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", b.NATSReconnectWait)
	v.SetDefault("eventbus.nats_queue", b.NATSQueue)

	v.SetDefault("model.path", cfg.Model.Path)
	v.SetDefault("model.training_data", cfg.Model.TrainingData)
	v.SetDefault("model.trees", cfg.Model.Trees)
	v.SetDefault("model.seed", cfg.Model.Seed)
	v.SetDefault("model.time_features", cfg.Model.TimeFeatures)

	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.tenant_ids", cfg.Worker.TenantIDs)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(lc domain.LoggingConfig, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
