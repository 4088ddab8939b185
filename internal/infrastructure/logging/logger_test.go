package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_AddsServiceAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "workspace-realtime",
		Environment: "test",
	})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithConnectionID(ctx, "conn-1")
	ctx = WithWorkspaceID(ctx, "w1")
	logger.DebugContext(ctx, "hello", "k", "v")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "workspace-realtime", record["service"])
	assert.Equal(t, "test", record["environment"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "conn-1", record["connection_id"])
	assert.Equal(t, "w1", record["workspace_id"])
	assert.Equal(t, "v", record["k"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Format: "json", Output: &buf})

	ctx := WithUserID(context.Background(), "u1")
	LoggerFromContext(ctx, base).Info("scoped")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "u1", record["user_id"])
}

func TestLogPanic(t *testing.T) {
	var buf bytes.Buffer
	LogPanic(NewLogger(Config{Format: "json", Output: &buf}), "boom")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "boom", record["panic"])
	assert.NotEmpty(t, record["stack_trace"])
}

func TestFieldsFrom_LayersValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	child := WithUserID(ctx, "u1")

	assert.Equal(t, Fields{RequestID: "req-1"}, FieldsFrom(ctx))
	assert.Equal(t, Fields{RequestID: "req-1", UserID: "u1"}, FieldsFrom(child))
	assert.Equal(t, "req-1", GetRequestID(child))
	assert.Equal(t, Fields{}, FieldsFrom(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestLogRequest_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := NewLogger(Config{Format: "json", Output: &buf})
		LogRequest(context.Background(), logger, RequestRecord{Method: "GET", Path: "/x", StatusCode: tt.status})

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, tt.level, record["level"])
		assert.Equal(t, float64(tt.status), record["status_code"])
	}
}
