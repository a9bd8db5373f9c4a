package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestForTransition_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForTransition(NewZapAdapter(zap.New(core)), "app-1", "review")

	log.Info("transition committed", map[string]interface{}{
		"to":    "UNDER_REVIEW",
		"cause": errors.New("none"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "app-1", fields["applicationId"])
	assert.Equal(t, "review", fields["stage"])
	assert.Equal(t, "UNDER_REVIEW", fields["to"])
	assert.Equal(t, "none", fields["cause"])
}

func TestWithError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapAdapter(zap.New(core)).WithError(errors.New("redis down"))

	log.Debug("dropped", nil)
	log.Warn("lock release failed", nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "redis down", logs.All()[0].ContextMap()["error"])
}
