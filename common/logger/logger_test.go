package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldHelpersChain(t *testing.T) {
	log := New("error", "json").
		WithJob("demo").
		WithDataset("100123").
		WithArtifact("/tmp/out.csv").
		WithFields(map[string]any{"run_id": "abc"})

	require.NotNil(t, log)
	log.Debug("suppressed at error level")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
