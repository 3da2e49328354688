package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/testutil"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Session.Backend = config.BackendMemory
	return cfg
}

func TestBuild_MemoryBackend(t *testing.T) {
	log := testutil.NewMockLogger()
	c, err := Build(context.Background(), memoryConfig(), WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Sessions)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Metrics)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Publisher)
	assert.Nil(t, c.Artifacts)
	assert.Empty(t, c.Checks)
	assert.True(t, log.HasMessage("info", "discovery engine wired"))

	run, err := c.Engine.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID())
}

func TestBuild_SQLiteBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Session.Backend = config.BackendSQLite
	cfg.Session.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")

	c, err := Build(context.Background(), cfg, WithLogger(testutil.NewMockLogger()))
	require.NoError(t, err)
	require.Len(t, c.Checks, 1)
	assert.Equal(t, "sessions", c.Checks[0].Name)
	assert.Empty(t, c.Ping(context.Background(), time.Second))

	list, err := c.Sessions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, c.Close())
}

func TestBuild_RedisAndKafka(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}

	c, err := Build(context.Background(), cfg, WithLogger(testutil.NewMockLogger()))
	require.NoError(t, err)
	assert.NotNil(t, c.Redis)
	assert.NotNil(t, c.Publisher)
	assert.Empty(t, c.Ping(context.Background(), time.Second))

	mr.Close()
	failed := c.Ping(context.Background(), time.Second)
	assert.Contains(t, failed, "redis")
	assert.NoError(t, c.Close())
}

func TestBuild_FailureClosesOpened(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Kafka.Topic = ""

	c, err := Build(context.Background(), cfg, WithLogger(testutil.NewMockLogger()))
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBuild_InvalidBackendURL(t *testing.T) {
	cfg := memoryConfig()
	cfg.Services.BaseURL = "ftp://backend"
	_, err := Build(context.Background(), cfg, WithLogger(testutil.NewMockLogger()))
	assert.Error(t, err)
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil)
	assert.Error(t, err)
}

func TestWatchConfig_ChangesLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "discovery.yaml")
	write := func(level string) {
		body := "log:\n  level: " + level + "\n  output_paths: [\"" + filepath.Join(dir, "out.log") + "\"]\nsession:\n  backend: memory\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("info")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NotNil(t, c.Level)
	assert.Equal(t, "info", c.Level.Level())

	require.NoError(t, c.WatchConfig(path))
	write("debug")

	assert.Eventually(t, func() bool { return c.Level.Level() == "debug" }, 5*time.Second, 20*time.Millisecond)
}
