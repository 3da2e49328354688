// Package config defines the configuration structures of the discovery
// engine. No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds REST server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// ServicesConfig points at the external discovery backend.
type ServicesConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	StructureBase string        `mapstructure:"structure_base"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// Session backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SessionConfig selects and configures the session repository.
type SessionConfig struct {
	Backend    string         `mapstructure:"backend"`
	AutoSync   bool           `mapstructure:"auto_sync"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; an empty
// Addr disables it.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig holds event publisher parameters. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// Enabled reports whether Kafka is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// MinIOConfig holds the docking artifact archive parameters. An empty
// Endpoint disables it.
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// Enabled reports whether MinIO is configured.
func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	Path      string `mapstructure:"path"`
}

// AggregationConfig tunes candidate aggregation.
type AggregationConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	L2TTL        time.Duration `mapstructure:"l2_ttl"`
}

// DockingConfig tunes the docking orchestrator.
type DockingConfig struct {
	NumPoses int           `mapstructure:"num_poses"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// GenerationConfig holds generation defaults.
type GenerationConfig struct {
	candidate.GenerationParams `mapstructure:",squash"`
	MaxParallel                int `mapstructure:"max_parallel"`
}

// WorkerConfig tunes the workflow event consumer.
type WorkerConfig struct {
	GroupID        string        `mapstructure:"group_id"`
	Workers        int           `mapstructure:"workers"`
	HealthAddr     string        `mapstructure:"health_addr"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	ActivityTTL    time.Duration `mapstructure:"activity_ttl"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration of the engine, the REST server and the
// CLI.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Services    ServicesConfig    `mapstructure:"services"`
	Session     SessionConfig     `mapstructure:"session"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Docking     DockingConfig     `mapstructure:"docking"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Services.BaseURL == "" {
		return fmt.Errorf("config: services.base_url is required")
	}
	if c.Services.Timeout <= 0 {
		return fmt.Errorf("config: services.timeout must be positive")
	}
	if c.Services.MaxRetries < 0 {
		return fmt.Errorf("config: services.max_retries must be >= 0, got %d", c.Services.MaxRetries)
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("config: session.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		pg := c.Session.Postgres
		if pg.Host == "" || pg.User == "" || pg.DBName == "" {
			return fmt.Errorf("config: session.postgres host, user and db_name are required for the postgres backend")
		}
		if pg.Port < 1 || pg.Port > 65535 {
			return fmt.Errorf("config: session.postgres.port %d is out of range [1, 65535]", pg.Port)
		}
	default:
		return fmt.Errorf("config: session.backend %q is invalid; expected memory|sqlite|postgres", c.Session.Backend)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required when brokers are set")
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		return fmt.Errorf("config: minio.bucket is required when endpoint is set")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}
	if c.Docking.NumPoses < 1 {
		return fmt.Errorf("config: docking.num_poses must be >= 1, got %d", c.Docking.NumPoses)
	}
	if c.Worker.Workers < 1 {
		return fmt.Errorf("config: worker.workers must be >= 1, got %d", c.Worker.Workers)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must be >= 0, got %d", c.Worker.MaxRetries)
	}
	if c.Generation.NumMolecules < 1 {
		return fmt.Errorf("config: generation.num_molecules must be >= 1, got %d", c.Generation.NumMolecules)
	}
	return nil
}
