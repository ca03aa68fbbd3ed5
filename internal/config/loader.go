package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "modguard.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MODGUARD_PORT")
	setString(&cfg.Server.CORSOrigin, "MODGUARD_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimit, "MODGUARD_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "MODGUARD_RATE_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "MODGUARD_IDEMPOTENCY_TTL")
	setInt(&cfg.Limits.Classifier, "MODGUARD_CLASSIFIER_CONCURRENCY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MODGUARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MODGUARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MODGUARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MODGUARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MODGUARD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.CheckpointBucket, "MODGUARD_NATS_CHECKPOINT_BUCKET")
	setString(&cfg.Redis.Addr, "REDIS_URL")
	setString(&cfg.Redis.Password, "MODGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MODGUARD_REDIS_DB")
	setString(&cfg.SQLite.Path, "MODGUARD_SQLITE_PATH")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "MODGUARD_LLM_MODEL")
	setString(&cfg.LiteLLM.EmbeddingModel, "MODGUARD_EMBEDDING_MODEL")
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.Model, "MODGUARD_ANTHROPIC_MODEL")
	setString(&cfg.Logging.Level, "MODGUARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MODGUARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MODGUARD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MODGUARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MODGUARD_BREAKER_TIMEOUT")
	setUint64(&cfg.Retry.MaxRetries, "MODGUARD_RETRY_MAX")
	setDuration(&cfg.Retry.BaseDelay, "MODGUARD_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "MODGUARD_RETRY_MAX_DELAY")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "MODGUARD_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "MODGUARD_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "MODGUARD_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "MODGUARD_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "MODGUARD_OTEL_SAMPLE_RATE")

	// Checkpoints
	setString(&cfg.Checkpoint.Backend, "MODGUARD_CHECKPOINT_BACKEND")
	setDuration(&cfg.Checkpoint.StaleAfter, "MODGUARD_CHECKPOINT_STALE_AFTER")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "MODGUARD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "MODGUARD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "MODGUARD_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TTL, "MODGUARD_CACHE_TTL")

	// Similarity
	setString(&cfg.Similarity.Embedder, "MODGUARD_EMBEDDER")
	setInt(&cfg.Similarity.HashDimension, "MODGUARD_HASH_DIMENSION")
	setFloat64(&cfg.Similarity.MaxDistance, "MODGUARD_SIMILARITY_MAX_DISTANCE")
	setBool(&cfg.Similarity.Persist, "MODGUARD_SIMILARITY_PERSIST")

	// Scoring
	setFloat64(&cfg.Scoring.Thresholds.AutoReject, "MODGUARD_AUTO_REJECT_THRESHOLD")
	setFloat64(&cfg.Scoring.Thresholds.Escalate, "MODGUARD_ESCALATE_THRESHOLD")
	setFloat64(&cfg.Scoring.Thresholds.CertaintyFloor, "MODGUARD_CERTAINTY_FLOOR")
	setFloat64(&cfg.Scoring.AppealThresholds.AutoOverturn, "MODGUARD_APPEAL_OVERTURN_THRESHOLD")
	setFloat64(&cfg.Scoring.AppealThresholds.Escalate, "MODGUARD_APPEAL_ESCALATE_THRESHOLD")

	// Notifications
	setString(&cfg.Notifications.SlackToken, "SLACK_BOT_TOKEN")
	setString(&cfg.Notifications.SlackChannel, "MODGUARD_SLACK_CHANNEL")

	// Scheduler
	setString(&cfg.Scheduler.StatsCron, "MODGUARD_STATS_CRON")
	setDuration(&cfg.Scheduler.StatsWindow, "MODGUARD_STATS_WINDOW")
}

var checkpointBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"nats":     true,
	"redis":    true,
	"sqlite":   true,
}

// validate checks that required fields are set and the scoring policy is coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Limits.Classifier < 1 {
		return errors.New("limits.classifier must be >= 1")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be > 0")
	}
	if !checkpointBackends[cfg.Checkpoint.Backend] {
		return fmt.Errorf("checkpoint.backend %q is not one of memory, postgres, nats, redis, sqlite", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.Backend == "nats" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats checkpoint backend")
	}
	if cfg.Checkpoint.Backend == "redis" && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required for the redis checkpoint backend")
	}
	if cfg.Checkpoint.Backend == "sqlite" && cfg.SQLite.Path == "" {
		return errors.New("sqlite.path is required for the sqlite checkpoint backend")
	}
	if cfg.Similarity.Embedder != "litellm" && cfg.Similarity.Embedder != "hash" {
		return fmt.Errorf("similarity.embedder %q is not one of litellm, hash", cfg.Similarity.Embedder)
	}
	if cfg.Similarity.Embedder == "hash" && cfg.Similarity.HashDimension < 1 {
		return errors.New("similarity.hash_dimension must be >= 1")
	}
	if err := cfg.Scoring.Thresholds.Validate(); err != nil {
		return fmt.Errorf("scoring.thresholds: %w", err)
	}
	if err := cfg.Scoring.AppealWeights.Validate(); err != nil {
		return fmt.Errorf("scoring.appeal_weights: %w", err)
	}
	if err := cfg.Scoring.AppealThresholds.Validate(); err != nil {
		return fmt.Errorf("scoring.appeal_thresholds: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
