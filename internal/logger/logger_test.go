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

func TestContextHandler_AddsSessionID(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")

	ctx := WithSessionID(context.Background(), "sess-123")
	log.InfoContext(ctx, "ingested", "source", "a.pdf")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sess-123", record["session_id"])
	assert.Equal(t, "a.pdf", record["source"])
}

func TestContextHandler_NoSessionID(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")

	log.InfoContext(context.Background(), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, ok := record["session_id"]
	assert.False(t, ok)
}

func TestContextHandler_WithAttrsKeepsWrapping(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json").With("component", "ingest")

	log.InfoContext(WithSessionID(context.Background(), "s1"), "x")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "s1", record["session_id"])
	assert.Equal(t, "ingest", record["component"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "text")

	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
