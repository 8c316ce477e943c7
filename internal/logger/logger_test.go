package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter_JSONWithService(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	lg := InitWriter(&buf, "scalper", slog.LevelInfo)
	require.NotNil(t, lg)

	slog.Debug("hidden")
	slog.Info("alert sent", "asset", "SUI")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "scalper", rec["service"])
	assert.Equal(t, "SUI", rec["asset"])
	assert.Equal(t, "alert sent", rec["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel(" critical "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))
	assert.Nil(t, LogWithTrace(ctx))

	ctx = WithTraceID(ctx, "SUI-1")
	assert.Equal(t, "SUI-1", TraceID(ctx))
	assert.Len(t, LogWithTrace(ctx), 1)
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("SUI", ts)

	assert.True(t, strings.HasPrefix(tid, "SUI-"))
	assert.Contains(t, tid, "123456789")
}
