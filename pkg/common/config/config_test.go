package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8090", cfg.ServerPort)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, cfg.Monitor.PollInterval, cfg.Monitor.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Monitor.MaxBackoff)
	assert.Equal(t, 20, cfg.Monitor.SeriesCapacity)
	assert.Equal(t, 0, cfg.Monitor.MaxTransientFailures)
	assert.Equal(t, []string{"training_accuracy", "validation_accuracy", "training_loss"}, cfg.Monitor.TrackedMetrics)
	assert.Equal(t, "log", cfg.ChartSink)
	assert.Equal(t, time.Hour, cfg.ChartRedisTTL)
	assert.False(t, cfg.HistoryEnabled)
	assert.False(t, cfg.EventsEnabled)
	assert.NoError(t, cfg.OverlayError())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("SERIES_CAPACITY", "5")
	t.Setenv("TRACKED_METRICS", "training_loss, validation_accuracy ,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("CHART_SINK", "REDIS")
	t.Setenv("SIM_FAIL_RATE", "0.25")
	t.Setenv("EVENTS_ENABLED", "1")

	cfg := Load()
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.RequestTimeout)
	assert.Equal(t, 5, cfg.Monitor.SeriesCapacity)
	assert.Equal(t, []string{"training_loss", "validation_accuracy"}, cfg.Monitor.TrackedMetrics)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, "redis", cfg.ChartSink)
	assert.InDelta(t, 0.25, cfg.SimFailRate, 1e-9)
	assert.True(t, cfg.EventsEnabled)
}

func TestInvalidEnvKeepsDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("SERIES_CAPACITY", "-4")

	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 20, cfg.Monitor.SeriesCapacity)
}

func TestMonitorOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	content := `
monitor:
  poll_interval: 1s
  max_backoff: 10s
  series_capacity: 50
  tracked_metrics:
    - training_accuracy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("MONITOR_CONFIG_FILE", path)
	t.Setenv("POLL_MAX_TRANSIENT_FAILURES", "7")

	cfg := Load()
	require.NoError(t, cfg.OverlayError())
	assert.Equal(t, time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Monitor.MaxBackoff)
	assert.Equal(t, 50, cfg.Monitor.SeriesCapacity)
	assert.Equal(t, 7, cfg.Monitor.MaxTransientFailures)
	assert.Equal(t, []string{"training_accuracy"}, cfg.Monitor.TrackedMetrics)
}

func TestMonitorOverlayErrors(t *testing.T) {
	dir := t.TempDir()

	missing := MonitorConfig{}
	assert.Error(t, missing.Overlay(filepath.Join(dir, "nope.yaml")))

	noBlock := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(noBlock, []byte("other: true\n"), 0o644))
	assert.Error(t, missing.Overlay(noBlock))

	badDuration := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badDuration, []byte("monitor:\n  poll_interval: often\n"), 0o644))
	assert.Error(t, missing.Overlay(badDuration))
}
