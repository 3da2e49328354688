package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8080

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultServicesBaseURL = "http://localhost:8000"
	DefaultStructureBase   = "https://files.rcsb.org/download"
	DefaultServicesTimeout = 60 * time.Second
	DefaultMaxRetries      = 3

	DefaultSessionBackend = BackendSQLite
	DefaultSQLitePath     = "discovery.db"

	DefaultPostgresPort = 5432

	DefaultKafkaTopic = "discovery.workflow.events"

	DefaultMetricsNamespace = "discovery"
	DefaultMetricsPath      = "/metrics"

	DefaultFetchTimeout = 60 * time.Second
	DefaultL2TTL        = 6 * time.Hour

	DefaultNumPoses    = 10
	DefaultDockLockTTL = 10 * time.Minute

	DefaultWorkerGroup      = "discovery-worker"
	DefaultWorkerHealthAddr = ":8081"
	DefaultHandlerTimeout   = 30 * time.Second
	DefaultActivityTTL      = 7 * 24 * time.Hour
)

// ApplyDefaults fills every zero-value field in cfg with the default.
// Explicitly configured values are left unchanged. It must run after
// unmarshalling and before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Services ──────────────────────────────────────────────────────────────
	if cfg.Services.BaseURL == "" {
		cfg.Services.BaseURL = DefaultServicesBaseURL
	}
	if cfg.Services.StructureBase == "" {
		cfg.Services.StructureBase = DefaultStructureBase
	}
	if cfg.Services.Timeout == 0 {
		cfg.Services.Timeout = DefaultServicesTimeout
	}
	if cfg.Services.MaxRetries == 0 {
		cfg.Services.MaxRetries = DefaultMaxRetries
	}
	if cfg.Services.RetryBackoff == 0 {
		cfg.Services.RetryBackoff = 500 * time.Millisecond
	}

	// ── Session ───────────────────────────────────────────────────────────────
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = DefaultSessionBackend
	}
	if cfg.Session.SQLitePath == "" {
		cfg.Session.SQLitePath = DefaultSQLitePath
	}
	if cfg.Session.Postgres.Port == 0 {
		cfg.Session.Postgres.Port = DefaultPostgresPort
	}
	if cfg.Session.Postgres.SSLMode == "" {
		cfg.Session.Postgres.SSLMode = "disable"
	}
	if cfg.Session.Postgres.MaxConns == 0 {
		cfg.Session.Postgres.MaxConns = 10
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "discovery:"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 100 * time.Millisecond
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "discovery-artifacts"
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = time.Hour
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Aggregation / docking / generation ────────────────────────────────────
	if cfg.Aggregation.FetchTimeout == 0 {
		cfg.Aggregation.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Aggregation.L2TTL == 0 {
		cfg.Aggregation.L2TTL = DefaultL2TTL
	}
	if cfg.Docking.NumPoses == 0 {
		cfg.Docking.NumPoses = DefaultNumPoses
	}
	if cfg.Docking.LockTTL == 0 {
		cfg.Docking.LockTTL = DefaultDockLockTTL
	}
	cfg.Generation.GenerationParams = cfg.Generation.GenerationParams.WithDefaults()

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.GroupID == "" {
		cfg.Worker.GroupID = DefaultWorkerGroup
	}
	if cfg.Worker.Workers == 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.HealthAddr == "" {
		cfg.Worker.HealthAddr = DefaultWorkerHealthAddr
	}
	if cfg.Worker.HandlerTimeout == 0 {
		cfg.Worker.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = time.Second
	}
	if cfg.Worker.ActivityTTL == 0 {
		cfg.Worker.ActivityTTL = DefaultActivityTTL
	}
}

// defaultBools are the boolean settings whose default is true. A bool zero
// value cannot be told apart from an explicit false, so they are registered
// with viper instead of ApplyDefaults.
var defaultBools = map[string]bool{
	"session.auto_sync": true,
	"metrics.enabled":   true,
}

// Default returns a Config holding only defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Session.AutoSync = defaultBools["session.auto_sync"]
	cfg.Metrics.Enabled = defaultBools["metrics.enabled"]
	ApplyDefaults(cfg)
	return cfg
}
