package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// tagKey is the reserved attribute carrying an operational tag. The
// handler lifts it into the [LEVEL] position instead of rendering it as
// a key=value pair.
const tagKey = "log_tag"

// TagTextHandler implements slog.Handler for the relay's log format:
//
//	[2006-01-02 15:04:05] [LEVEL] message key=value ...
type TagTextHandler struct {
	opts  *slog.HandlerOptions
	w     io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewTagTextHandler creates a handler writing the relay's record format
// to w.
func NewTagTextHandler(w io.Writer, opts *slog.HandlerOptions) *TagTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	return &TagTextHandler{
		opts: opts,
		w:    w,
		mu:   &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TagTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record.
func (h *TagTextHandler) Handle(_ context.Context, r slog.Record) error {
	timestamp := r.Time.Format("2006-01-02 15:04:05")

	// A tag attribute replaces the severity string.
	levelStr := formatLevel(r.Level)
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == tagKey {
			levelStr = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	})

	// Build output outside the lock.
	var buf []byte
	buf = fmt.Appendf(buf, "[%s] [%s] %s", timestamp, levelStr, r.Message)

	for _, attr := range h.attrs {
		buf = appendAttr(buf, attr)
	}
	for _, attr := range rest {
		buf = appendAttr(buf, attr)
	}

	buf = append(buf, '\n')

	// Only lock for the actual write.
	h.mu.Lock()
	_, err := h.w.Write(buf)
	h.mu.Unlock()
	return err
}

func formatLevel(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}

	a.Value = a.Value.Resolve()
	return fmt.Appendf(buf, " %s=%s", a.Key, formatValue(a.Value))
}

// formatValue formats a slog.Value for text output.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%.3f", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}

// WithAttrs returns a new handler with additional pre-bound attrs.
func (h *TagTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TagTextHandler{
		opts:  h.opts,
		w:     h.w,
		mu:    h.mu, // share mutex with parent
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

// WithGroup returns the handler unchanged; the relay's flat record
// format does not nest groups.
func (h *TagTextHandler) WithGroup(name string) slog.Handler {
	return h
}
