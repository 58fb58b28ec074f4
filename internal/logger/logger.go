// Package logger installs the process-wide slog handler and routes the SIP
// stack's zerolog output through the same line format.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var (
	levelVar   = new(slog.LevelVar) // process-wide threshold, default info
	handlerMux sync.Mutex           // serializes writes from every handler
)

// JSONParsingWriter wraps an io.Writer and rewrites JSON log lines (as
// produced by zerolog) into the "[15:04:05] [LEVEL] msg k=v" format. Other
// lines pass through unchanged.
type JSONParsingWriter struct {
	base io.Writer
}

// NewJSONParsingWriter wraps w.
func NewJSONParsingWriter(w io.Writer) *JSONParsingWriter {
	return &JSONParsingWriter{base: w}
}

// Write implements io.Writer.
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	trimmed := strings.TrimSpace(string(p))
	if !strings.HasPrefix(trimmed, "{") {
		return w.base.Write(p)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return w.base.Write(p)
	}

	level := "info"
	if lv, ok := entry["level"]; ok {
		level = fmt.Sprint(lv)
	}
	message := ""
	if msg, ok := entry["message"]; ok {
		message = fmt.Sprint(msg)
	}
	ts := time.Now()
	if t, ok := entry["time"]; ok {
		if parsed, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
			ts = parsed
		}
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "message", "time", "caller":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	attrs := make([]string, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, fmt.Sprintf("%s=%v", k, entry[k]))
	}

	if _, err := io.WriteString(w.base, formatLine(ts, strings.ToUpper(level), message, attrs)); err != nil {
		return 0, err
	}
	// Report the caller's full length so zerolog does not flag a short write.
	return len(p), nil
}

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	levelVar.Set(ParseLevel(levelStr))
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	switch levelVar.Level() {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level. Unknown strings mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lineHandler writes one formatted line per record to every output.
type lineHandler struct {
	outs  []io.Writer
	attrs []string // pre-rendered WithAttrs attributes
	group string
}

// NewHandler returns the line-format handler writing to outputs.
func NewHandler(outputs ...io.Writer) slog.Handler {
	return &lineHandler{outs: outputs}
}

// Enabled implements slog.Handler
func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= levelVar.Level()
}

// Handle implements slog.Handler
func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := slices.Clone(h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.render(a))
		return true
	})

	line := formatLine(record.Time, strings.ToUpper(record.Level.String()), record.Message, attrs)

	handlerMux.Lock()
	defer handlerMux.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = io.WriteString(out, line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &lineHandler{outs: h.outs, group: h.group, attrs: slices.Clone(h.attrs)}
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.render(a))
	}
	return next
}

// WithGroup implements slog.Handler
func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &lineHandler{outs: h.outs, attrs: h.attrs, group: group}
}

func (h *lineHandler) render(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return key + "=" + a.Value.Resolve().String()
}

func formatLine(ts time.Time, level, message string, attrs []string) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(ts.Format("15:04:05"))
	b.WriteString("] [")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return b.String()
}

// InitLogger installs the line handler as the slog default. JSON lines
// written by other libraries to the same outputs are reformatted.
func InitLogger(outputs ...io.Writer) {
	wrapped := make([]io.Writer, len(outputs))
	for i, out := range outputs {
		wrapped[i] = NewJSONParsingWriter(out)
	}
	slog.SetDefault(slog.New(NewHandler(wrapped...)))
}

// ConfigureSIPStack points the zerolog global logger, which the SIP stack
// logs through, at out in the line format, filtered at level.
func ConfigureSIPStack(level string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	zlog.Logger = zerolog.New(NewJSONParsingWriter(out)).
		Level(zerologLevel(level)).
		With().Timestamp().Str("component", "sip").Logger()
}

func zerologLevel(s string) zerolog.Level {
	switch ParseLevel(s) {
	case slog.LevelDebug:
		return zerolog.DebugLevel
	case slog.LevelWarn:
		return zerolog.WarnLevel
	case slog.LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
