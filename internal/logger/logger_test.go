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

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "kraken-test", slog.LevelInfo)
	require.NotNil(t, l)

	l.Debug("hidden")
	l.Info("hello", slog.Int("n", 1))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kraken-test", rec["service"])
	assert.Equal(t, "hello", rec["msg"])
	assert.EqualValues(t, 1, rec["n"])
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SessionID(ctx))

	id := NewSessionID()
	require.Len(t, id, 36)
	ctx = WithSessionID(ctx, id)
	assert.Equal(t, id, SessionID(ctx))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	FromContext(WithSessionID(context.Background(), "abc"), base).Info("x")
	assert.Contains(t, buf.String(), `"session_id":"abc"`)

	buf.Reset()
	FromContext(context.Background(), base).Info("y")
	assert.NotContains(t, buf.String(), "session_id")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
