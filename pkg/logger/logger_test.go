package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log := New(Options{Level: "debug", File: path, MaxSizeMB: 1, MaxBackups: 1})
	log.Info("recording started")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"recording started"`)
	assert.Contains(t, string(raw), `"timestamp"`)
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log := New(Options{Level: "loud"})
	assert.True(t, log.Core().Enabled(0))
	assert.False(t, log.Core().Enabled(-1))
}
