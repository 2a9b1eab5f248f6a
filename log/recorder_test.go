package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envkit-dev/envkit-sdk/log"
)

func TestRecorder_CapturesRecords(t *testing.T) {
	rec := log.NewRecorder()
	logger := rec.Logger()

	logger.Warn("environment leaked", "environment", "env-1")
	logger.Debug("created environment")

	records := rec.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "environment leaked", records[0].Message)
	assert.True(t, rec.Contains(slog.LevelWarn, "leaked"))
	assert.False(t, rec.Contains(slog.LevelWarn, "created"))
}

func TestRecorder_RespectsLevel(t *testing.T) {
	rec := log.NewRecorder(log.WithLevel(slog.LevelWarn))
	logger := rec.Logger()

	logger.Debug("noise")
	logger.Warn("signal")

	records := rec.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "signal", records[0].Message)
}

func TestRecorder_WithAttrsSharesCollection(t *testing.T) {
	rec := log.NewRecorder()
	scoped := slog.New(rec).With("policy", "p1")

	scoped.Warn("dead environment")

	assert.True(t, rec.Contains(slog.LevelWarn, "dead environment"),
		"records logged through derived handlers must land in the same recorder")
}
