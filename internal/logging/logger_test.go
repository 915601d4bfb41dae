package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Info("pipeline", "turn finished", map[string]interface{}{"query_id": "q1"})
	l.Error("store", "save failed", map[string]interface{}{"error": errors.New("boom")})
	l.Debug("cache", "miss", nil)

	entries := logs.All()
	require.Len(t, entries, 3)

	first := entries[0].ContextMap()
	assert.Equal(t, "pipeline", first["module"])
	assert.Equal(t, map[string]interface{}{"query_id": "q1"}, first["details"])

	second := entries[1].ContextMap()
	assert.Contains(t, second, "error_ref")
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)

	third := entries[2].ContextMap()
	assert.Equal(t, map[string]interface{}{}, third["details"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	l.Warn("x", "ignored", nil)
	assert.NoError(t, l.Sync())
}
