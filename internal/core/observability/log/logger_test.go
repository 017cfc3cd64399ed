package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesTypedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, LevelDebug)

	logger.With(String("component", "scheduler")).Info("Flushed",
		Int("items", 3),
		Duration("delay", 50*time.Millisecond),
		Error(errors.New("subscriber failed")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Flushed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "scheduler", fields["component"])
	assert.EqualValues(t, 3, fields["items"])
	assert.Equal(t, 50*time.Millisecond, fields["delay"])
	assert.Equal(t, "subscriber failed", fields["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, LevelWarn)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	assert.Equal(t, 1, logs.Len())

	logger.With(Bool("sampled", true)).Error("kept", Uint64("heap", 42))
	require.Equal(t, 2, logs.Len())
	fields := logs.All()[1].ContextMap()
	assert.Equal(t, true, fields["sampled"])
	assert.EqualValues(t, 42, fields["heap"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestProvideNeverNil(t *testing.T) {
	assert.NotNil(t, Provide())
}
