package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger writes entries into buf so tests can assert field shape.
func captureLogger(buf *bytes.Buffer) *Logger {
	return &Logger{Logger: zerolog.New(buf).Hook(OTELHook{})}
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogCheckFailureFields(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.LogCheckFailure(context.Background(), "OpenPorts", "i-1", errors.New("boom"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "OpenPorts", entry["check"])
	assert.Equal(t, "i-1", entry["resource_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "check execution failed", entry["message"])
}

func TestLogPublishFailureFields(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.LogPublishFailure(context.Background(), "OpenPorts", "i-1", 503)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, float64(503), entry["http_status"])
	assert.Equal(t, "finding publication failed", entry["message"])
}

func TestLogScopeFailureFields(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.LogScopeFailure(context.Background(), "env-1", "eu-west-1", errors.New("503"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "env-1", entry["environment_id"])
	assert.Equal(t, "eu-west-1", entry["region"])
	assert.Equal(t, "scope resolution failed, skipping environment", entry["message"])
}

func TestLogDispatchFields(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.LogDispatch(context.Background(), "env-1", "AWS::EC2::Instance", "i-1", false)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "env-1", entry["environment_id"])
	assert.Equal(t, "AWS::EC2::Instance", entry["resource_type"])
	assert.Equal(t, "i-1", entry["resource_id"])
	assert.Equal(t, false, entry["in_scope"])
}

func TestOTELHookSkipsWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	// No span on the context: no trace correlation fields.
	l.WithContext(context.Background()).Info().Msg("plain")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestNewLoggerTagsComponent(t *testing.T) {
	l := NewLogger("router")
	require.NotNil(t, l)

	var buf bytes.Buffer
	tagged := Logger{Logger: l.Output(&buf)}
	tagged.Info().Msg("up")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "router", entry["component"])
}
