package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept", "industry", "반도체")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "반도체", entry["industry"])
	assert.Equal(t, "sector-sentinel", entry["service"])
}

func TestRunIDPropagation(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunID(ctx))

	ctx = WithRunID(ctx, "abc")
	assert.Equal(t, "abc", RunID(ctx))

	var buf bytes.Buffer
	FromContext(ctx, New(&buf, "info", "text")).Info("job")
	assert.Contains(t, buf.String(), "run_id=abc")
}
