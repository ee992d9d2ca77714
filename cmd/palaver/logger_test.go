// ABOUTME: Tests for logger setup
// ABOUTME: Covers level parsing, JSON output and the color handler's attrs

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palaver/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "server").Info("started", "addr", ":8080")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "started", rec["msg"])
	assert.Equal(t, "server", rec["component"])
	assert.Equal(t, ":8080", rec["addr"])
}

func TestNewLogger_Color(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "scope").Debug("entry sweep", "scope", "/notes/alice")
	logger.WithGroup("req").Warn("slow", "ms", 12)

	out := buf.String()
	assert.Contains(t, out, "DBG entry sweep component=scope scope=/notes/alice")
	assert.Contains(t, out, "WRN slow req.ms=12")
}
