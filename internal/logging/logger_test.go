package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestNewLoggerBadOutput(t *testing.T) {
	_, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/x/y.log"}})
	assert.Error(t, err)
}

func TestFieldsReachCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerFromCore(core).Named("pipeline").With(String("document", "WO123.pdf"))

	l.Warn("collaborator failed", String("collaborator", "opsin"), Err(errors.New("boom")), Int("attempt", 2))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "collaborator failed", entry.Message)
	assert.Equal(t, "pipeline", entry.LoggerName)
	ctx := entry.ContextMap()
	assert.Equal(t, "WO123.pdf", ctx["document"])
	assert.Equal(t, "opsin", ctx["collaborator"])
	assert.Equal(t, "boom", ctx["error"])
	assert.EqualValues(t, 2, ctx["attempt"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNopAndDefault(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	assert.NoError(t, NewNopLogger().Sync())

	core, logs := observer.New(zapcore.InfoLevel)
	SetDefault(NewLoggerFromCore(core))
	t.Cleanup(func() { SetDefault(nil) })

	Default().Info("hello")
	assert.Equal(t, 1, logs.Len())
}
