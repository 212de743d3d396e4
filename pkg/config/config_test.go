package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
	require.Equal(t, 5*time.Second, cfg.Subscriber.SubscriptionCheckInterval)
	require.Equal(t, 5*time.Minute, cfg.Subscriber.MaxEpmBuildTime)
	require.True(t, cfg.Settings.QueueInitEvents)
	require.Equal(t, 1, cfg.Workers.WorkerCount)
	require.Equal(t, 1, cfg.Workers.WatcherCount)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabricsub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fabric: fab1
log:
  level: debug
  json: true
subscriber:
  helloInterval: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "fab1", cfg.Fabric)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.JSON)
	require.Equal(t, 30*time.Second, cfg.Subscriber.HelloInterval)
	// Untouched defaults survive the file layer.
	require.Equal(t, 15*time.Second, cfg.Subscriber.StatsInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabricsub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
`), 0o600))

	t.Setenv("FABRICSUB_LOG__LEVEL", "warn")
	t.Setenv("FABRICSUB_FABRIC", "fab2")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "fab2", cfg.Fabric)
}
