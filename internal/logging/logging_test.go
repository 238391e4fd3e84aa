package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/config"
)

func TestSetupLevelAndFormat(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	require.NoError(t, Setup(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, Setup(config.LogConfig{Level: "warn", Format: "text"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
}

func TestSetupWritesFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	path := filepath.Join(t.TempDir(), "poi.log")

	require.NoError(t, Setup(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1}))
	logrus.WithField("component", "test").Info("hello file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), "component=test")
}
