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
const DefaultConfigFile = "taskfabric.yaml"

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
	setString(&cfg.Server.Port, "TASKFABRIC_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKFABRIC_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKFABRIC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKFABRIC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKFABRIC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKFABRIC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKFABRIC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TASKFABRIC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKFABRIC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKFABRIC_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TASKFABRIC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKFABRIC_BREAKER_TIMEOUT")

	// Decider
	setFloat64(&cfg.Decider.ApprovalRiskThreshold, "TASKFABRIC_DECIDER_APPROVAL_RISK")
	setFloat64(&cfg.Decider.FullLoopComplexity, "TASKFABRIC_DECIDER_FULL_LOOP_COMPLEXITY")
	setFloat64(&cfg.Decider.ReviewedComplexity, "TASKFABRIC_DECIDER_REVIEWED_COMPLEXITY")
	setFloat64(&cfg.Decider.ReviewedRisk, "TASKFABRIC_DECIDER_REVIEWED_RISK")
	setDuration(&cfg.Decider.DirectTimeout, "TASKFABRIC_DECIDER_DIRECT_TIMEOUT")
	setDuration(&cfg.Decider.ReviewedTimeout, "TASKFABRIC_DECIDER_REVIEWED_TIMEOUT")
	setDuration(&cfg.Decider.FullLoopTimeout, "TASKFABRIC_DECIDER_FULL_LOOP_TIMEOUT")

	// Router
	setInt(&cfg.Router.MaxRetries, "TASKFABRIC_ROUTER_MAX_RETRIES")
	setDuration(&cfg.Router.ApprovalTTL, "TASKFABRIC_ROUTER_APPROVAL_TTL")

	// Pool
	setInt(&cfg.Pool.Size, "TASKFABRIC_POOL_SIZE")

	// Review
	setDuration(&cfg.Review.BatchWindow, "TASKFABRIC_REVIEW_BATCH_WINDOW")
	setInt(&cfg.Review.BatchSize, "TASKFABRIC_REVIEW_BATCH_SIZE")
	setInt(&cfg.Review.BufferSize, "TASKFABRIC_REVIEW_BUFFER_SIZE")

	// Cache
	setInt64(&cfg.Cache.MaxSizeMB, "TASKFABRIC_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "TASKFABRIC_CACHE_TTL")

	// OTel
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Pool.Size < 1 {
		return errors.New("pool.size must be >= 1")
	}
	if cfg.Router.MaxRetries < 1 {
		return errors.New("router.max_retries must be >= 1")
	}
	if cfg.Review.BatchWindow <= 0 {
		return errors.New("review.batch_window must be > 0")
	}
	if cfg.Review.BatchSize < 1 {
		return errors.New("review.batch_size must be >= 1")
	}
	if cfg.Decider.ReviewedComplexity > cfg.Decider.FullLoopComplexity {
		return errors.New("decider.reviewed_complexity must not exceed decider.full_loop_complexity")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
