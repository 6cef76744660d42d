package cmd

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogging(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	assert.NoError(t, setupLogging(false, "json"))
	assert.False(t, slog.Default().Enabled(t.Context(), slog.LevelDebug))

	assert.NoError(t, setupLogging(true, ""))
	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelDebug))

	err := setupLogging(false, "xml")
	assert.ErrorContains(t, err, "unsupported log format")
}
