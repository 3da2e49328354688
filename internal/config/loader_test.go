package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
log:
  level: debug
  format: console
services:
  base_url: "http://backend:8000"
  timeout: 15s
  max_retries: 2
session:
  backend: postgres
  auto_sync: false
  postgres:
    host: db
    user: discovery
    password: secret
    db_name: discovery
redis:
  addr: "redis:6379"
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
minio:
  endpoint: "minio:9000"
  access_key: key
  secret_key: secret
aggregation:
  fetch_timeout: 45s
docking:
  num_poses: 5
generation:
  num_molecules: 20
  scoring: QED
  max_parallel: 4
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://backend:8000", cfg.Services.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Services.Timeout)
	assert.Equal(t, BackendPostgres, cfg.Session.Backend)
	assert.False(t, cfg.Session.AutoSync)
	assert.Equal(t, "db", cfg.Session.Postgres.Host)
	assert.Equal(t, 5432, cfg.Session.Postgres.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.Equal(t, "discovery-artifacts", cfg.MinIO.Bucket)
	assert.Equal(t, 45*time.Second, cfg.Aggregation.FetchTimeout)
	assert.Equal(t, 5, cfg.Docking.NumPoses)
	assert.Equal(t, 20, cfg.Generation.NumMolecules)
	assert.Equal(t, 4, cfg.Generation.MaxParallel)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DISCOVERY_SERVER_PORT", "7070")
	t.Setenv("DISCOVERY_SESSION_POSTGRES_HOST", "db-from-env")
	t.Setenv("DISCOVERY_GENERATION_NUM_MOLECULES", "8")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "db-from-env", cfg.Session.Postgres.Host)
	assert.Equal(t, 8, cfg.Generation.NumMolecules)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DISCOVERY_SERVICES_BASE_URL", "http://env-backend")
	t.Setenv("DISCOVERY_SESSION_BACKEND", "memory")
	t.Setenv("DISCOVERY_METRICS_ENABLED", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://env-backend", cfg.Services.BaseURL)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.False(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Session.AutoSync)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestLoad_EmptyPathUsesEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionBackend, cfg.Session.Backend)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeConfig(t, "log:\n  level: chatty\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}
