// Package config provides hierarchical configuration loading for taskfabric.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the taskfabric core service.
type Config struct {
	Server   Server   `yaml:"server"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Decider  Decider  `yaml:"decider"`
	Router   Router   `yaml:"router"`
	Pool     Pool     `yaml:"pool"`
	Review   Review   `yaml:"review"`
	Cache    Cache    `yaml:"cache"`
	OTel     OTel     `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the task archive database configuration.
// An empty DSN disables archiving; the in-memory registry remains the
// source of truth either way.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables
// lifecycle event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds the circuit breaker configuration guarding classifier calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Decider holds strategy decision thresholds. Scores run 0-10; the
// defaults are a starting calibration, not a fixed contract.
type Decider struct {
	ApprovalRiskThreshold float64       `yaml:"approval_risk_threshold"` // risk >= N -> human approval
	FullLoopComplexity    float64       `yaml:"full_loop_complexity"`    // complexity >= N -> full loop
	ReviewedComplexity    float64       `yaml:"reviewed_complexity"`     // complexity >= N -> reviewed
	ReviewedRisk          float64       `yaml:"reviewed_risk"`           // risk >= N -> reviewed
	DirectTimeout         time.Duration `yaml:"direct_timeout"`
	ReviewedTimeout       time.Duration `yaml:"reviewed_timeout"`
	FullLoopTimeout       time.Duration `yaml:"full_loop_timeout"`
	ClassifierRetries     uint64        `yaml:"classifier_retries"`
	ClassifierRetryBase   time.Duration `yaml:"classifier_retry_base"`
}

// Router holds task routing configuration.
type Router struct {
	MaxRetries  int           `yaml:"max_retries"`  // attempts before a task is failed
	ApprovalTTL time.Duration `yaml:"approval_ttl"` // how long an approval request stays open
}

// Pool holds worker pool configuration.
type Pool struct {
	Size        int      `yaml:"size"`
	Specialties []string `yaml:"specialties"` // one tag per worker; missing entries default to "general"
}

// Review holds review queue batching configuration.
type Review struct {
	BatchWindow time.Duration `yaml:"batch_window"`
	BatchSize   int           `yaml:"batch_size"`
	BufferSize  int           `yaml:"buffer_size"`
}

// Cache holds the terminal-task snapshot cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// OTel holds OpenTelemetry exporter configuration. An empty endpoint
// disables metric and trace export.
type OTel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "taskfabric-core",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Decider: Decider{
			ApprovalRiskThreshold: 7,
			FullLoopComplexity:    7,
			ReviewedComplexity:    4,
			ReviewedRisk:          4,
			DirectTimeout:         30 * time.Second,
			ReviewedTimeout:       5 * time.Minute,
			FullLoopTimeout:       15 * time.Minute,
			ClassifierRetries:     2,
			ClassifierRetryBase:   100 * time.Millisecond,
		},
		Router: Router{
			MaxRetries:  2,
			ApprovalTTL: time.Hour,
		},
		Pool: Pool{
			Size: 4,
		},
		Review: Review{
			BatchWindow: 100 * time.Millisecond,
			BatchSize:   16,
			BufferSize:  256,
		},
		Cache: Cache{
			MaxSizeMB: 32,
			TTL:       time.Hour,
		},
		OTel: OTel{
			Endpoint: "",
		},
	}
}
