package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNew_WritesJSONToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vitals.log")

	log, err := New(Options{Level: "warn", Format: "json", File: path, Service: "officer-vitals"})
	require.NoError(t, err)

	log.Info("filtered out")
	log.Warn("Alert created", zap.String("subject_id", "officer-1"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Alert created", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "officer-1", entry["subject_id"])
	assert.Equal(t, "officer-vitals", entry["service_name"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_ConsoleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.log")

	log, err := New(Options{Level: "debug", Format: "console", File: path})
	require.NoError(t, err)
	log.Debug("Seeded window from history")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DEBUG")
	assert.Contains(t, string(data), "Seeded window from history")
}
