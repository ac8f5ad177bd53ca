package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestOutputWriter(t *testing.T) {
	assert.Equal(t, os.Stdout, outputWriter(&config.LoggingConfig{Output: "stdout"}))
	assert.Equal(t, os.Stderr, outputWriter(&config.LoggingConfig{Output: "stderr"}))

	path := filepath.Join(t.TempDir(), "telemetry.log")
	w := outputWriter(&config.LoggingConfig{Output: path, MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 3})
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
	assert.Equal(t, 2, lj.MaxBackups)
}

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.log")
	l := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: path, MaxSizeMB: 1})

	l.WithComponent("test").WithDevice("dev-1").Info("hello")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"test"`)
	assert.Contains(t, string(raw), `"uid":"dev-1"`)
	assert.Contains(t, string(raw), `"message":"hello"`)
}
