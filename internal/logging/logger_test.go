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
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewWritesServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "api", "warn")

	log.Info("dropped")
	log.Warn("offer expired", "wash_id", "wa_1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "offer expired", rec["msg"])
	assert.Equal(t, "api", rec["service"])
	assert.Equal(t, "wa_1", rec["wash_id"])
	assert.Contains(t, rec, "source")
}
