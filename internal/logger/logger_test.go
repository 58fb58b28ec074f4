package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[[A-Z]+\] `)

func withLevel(t *testing.T, level string) {
	t.Helper()
	prev := GetLevel()
	SetLevel(level)
	t.Cleanup(func() { SetLevel(prev) })
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestHandler_FormatsLine(t *testing.T) {
	withLevel(t, "debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))

	log.Info("[Registry] Session added", "session_id", "abc", "active", 2)

	line := buf.String()
	assert.Regexp(t, linePattern, line)
	assert.Contains(t, line, "[INFO] [Registry] Session added session_id=abc active=2")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestHandler_FiltersByLevel(t *testing.T) {
	withLevel(t, "warn")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown")
	assert.Equal(t, "warn", GetLevel())
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	withLevel(t, "debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("engine", "e1").WithGroup("reg")

	log.Debug("tick", "n", 1)
	assert.Contains(t, buf.String(), "tick engine=e1 reg.n=1")
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONParsingWriter(&buf)

	in := `{"level":"debug","time":"2024-01-02T03:04:05Z","message":"UDP read","b":2,"a":"x","caller":"x.go:1"}` + "\n"
	n, err := w.Write([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, "[03:04:05] [DEBUG] UDP read a=x b=2\n", buf.String())

	buf.Reset()
	_, err = w.Write([]byte("plain text\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain text\n", buf.String())
}

func TestConfigureSIPStack(t *testing.T) {
	var buf bytes.Buffer
	ConfigureSIPStack("warn", &buf)

	zlog.Info().Msg("dropped")
	zlog.Warn().Str("addr", "127.0.0.1:5060").Msg("transport closed")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Regexp(t, linePattern, out)
	assert.Contains(t, out, "[WARN] transport closed addr=127.0.0.1:5060 component=sip")
}
