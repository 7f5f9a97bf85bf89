package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Warn("quote fetch failed", map[string]any{
		"error": errors.New("timeout"),
		"asset": "ethereum",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "quote fetch failed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "timeout", ctx["error"])
	assert.Equal(t, "ethereum", ctx["asset"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestRotatingLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coffee.log")
	l := NewRotatingZapLogger("info", path)
	l.Info("hello", nil)
	_ = l.Sync()
	assert.FileExists(t, path)
}

func TestConstructorsWrapZap(t *testing.T) {
	assert.IsType(t, &ZapLogger{}, NewZapLogger("debug"))
	assert.IsType(t, &ZapLogger{}, NewRotatingZapLogger("info", ""))
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopLogger{}, OrNoop(nil))
}
