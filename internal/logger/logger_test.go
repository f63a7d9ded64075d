package logger

import (
	"os"
	"path/filepath"
	"testing"

	"facebooth-go/config"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "booth.log")
	require.NoError(t, Init(config.LogConfig{Level: "debug", File: path}))
	t.Cleanup(Close)

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.Info("hello from test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "loud"}))
	t.Cleanup(Close)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
