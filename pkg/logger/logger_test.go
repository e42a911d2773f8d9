package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/pkg/config"
)

func newBuffered(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := &config.Config{Env: "development", LogLevel: level, LogFormat: "json"}
	return NewWithWriter(cfg, buf), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	log, buf := newBuffered("debug")

	log.WithComponent("scan").
		WithStock("600519").
		WithFields(map[string]interface{}{"score": 0.95, "batch": 2}).
		Info("candidate found")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "candidate found", lines[0]["message"])
	assert.Equal(t, "scan", lines[0]["component"])
	assert.Equal(t, "600519", lines[0]["code"])
	assert.Equal(t, 0.95, lines[0]["score"])
	assert.Equal(t, float64(2), lines[0]["batch"])
	assert.Equal(t, "development", lines[0]["env"])
}

func TestLogger_WithError(t *testing.T) {
	log, buf := newBuffered("debug")

	log.WithError(errors.New("boom")).Error("fetch failed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "error", lines[0]["level"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	log, buf := newBuffered("warn")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warnf("shown %d", 1)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown 1", lines[0]["message"])
}

func TestNop(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() {
		log.WithField("k", "v").Info("ignored")
		log.Errorf("ignored %s", "too")
	})
}
