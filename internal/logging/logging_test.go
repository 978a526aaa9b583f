package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	log.Info("dropped")
	log.Warn("kept", slog.String("account", "A1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "A1", rec["account"])
}

func TestNewPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New("info", "pretty", &buf).Info("hello", slog.Int("n", 1))
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "INF")
}
