package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultValues(t *testing.T) {
	for _, key := range []string{"KAFKA_BROKERS", "HISTORY_BACKEND", "SCORER", "RISK_RESOLVER", "RISK_CONFIG_PATH", "LOG_TO_CONSOLE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9092", cfg.KafkaBrokers)
	assert.Equal(t, "sqlite", cfg.HistoryBackend)
	assert.Equal(t, "heuristic", cfg.Scorer)
	assert.Equal(t, "passthrough", cfg.Resolver)
	assert.False(t, cfg.LogToConsole)
	assert.Equal(t, DefaultEngine(), cfg.Engine)
}

func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092")
	t.Setenv("HISTORY_BACKEND", "Redis")
	t.Setenv("SCORER", "MODEL")
	t.Setenv("LOG_TO_CONSOLE", "TRUE")
	t.Setenv("RISK_CONFIG_PATH", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "kafka-1:9092", cfg.KafkaBrokers)
	assert.Equal(t, "redis", cfg.HistoryBackend)
	assert.Equal(t, "model", cfg.Scorer)
	assert.True(t, cfg.LogToConsole)
}

func TestLoadConfig_InvalidRiskConfig(t *testing.T) {
	t.Setenv("RISK_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	os.Unsetenv("TEST_KEY")
	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))

	t.Setenv("TEST_KEY", "env-value")
	assert.Equal(t, "env-value", getEnv("TEST_KEY", "default-value"))
}

func TestGetDuration(t *testing.T) {
	os.Unsetenv("TEST_INTERVAL")
	d, err := getDuration("TEST_INTERVAL", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	t.Setenv("TEST_INTERVAL", "90s")
	d, err = getDuration("TEST_INTERVAL", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	for _, bad := range []string{"soon", "-5m", "0s"} {
		t.Setenv("TEST_INTERVAL", bad)
		d, err = getDuration("TEST_INTERVAL", time.Minute)
		assert.ErrorContains(t, err, "TEST_INTERVAL")
		assert.Equal(t, time.Minute, d)
	}
}

func TestLoadConfig_CollectsWarnings(t *testing.T) {
	t.Setenv("RISK_CONFIG_PATH", "")
	t.Setenv("HOUSEKEEPING_INTERVAL", "often")
	t.Setenv("ALERT_RETENTION", "48h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.HousekeepingInterval)
	assert.Equal(t, 48*time.Hour, cfg.AlertRetention)
	assert.Contains(t, strings.Join(cfg.Warnings, "\n"), `invalid duration "often" for HOUSEKEEPING_INTERVAL`)
}

func TestLoadEngine_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	body := `
runs:
  sustained_run: 4
  emerging_run: 3
trend:
  concern_delta: 20
lifecycle:
  cooldown: 5m
window:
  pad_cold_start: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadEngine(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Runs.SustainedRun)
	assert.Equal(t, 3, cfg.Runs.EmergingRun)
	assert.Equal(t, 20.0, cfg.Trend.ConcernDelta)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.Cooldown)
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.RecommendationWindow())
	assert.False(t, cfg.Window.PadColdStart)

	// untouched keys keep their defaults
	assert.Equal(t, 10, cfg.Window.Capacity)
	assert.Equal(t, 180.0, cfg.Runs.CriticalHigh)
	assert.Equal(t, 10.0, cfg.Trend.Delta)
}

func TestEngineValidate(t *testing.T) {
	require.NoError(t, DefaultEngine().Validate())
	assert.Equal(t, 3, DefaultEngine().Runs.SustainedRun)
	assert.Equal(t, 2, DefaultEngine().Runs.EmergingRun)

	tests := []struct {
		name   string
		mutate func(*Engine)
	}{
		{"capacity below minimum", func(e *Engine) { e.Window.Capacity = 2 }},
		{"emerging not below sustained", func(e *Engine) { e.Runs.EmergingRun = 3 }},
		{"inverted high thresholds", func(e *Engine) { e.Runs.High = 190 }},
		{"inverted low thresholds", func(e *Engine) { e.Runs.Low = 35 }},
		{"zero cooldown", func(e *Engine) { e.Lifecycle.Cooldown = 0 }},
		{"inverted value range", func(e *Engine) { e.Window.MinValue = 400 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngine()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
