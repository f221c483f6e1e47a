package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// TextHandler implements slog.Handler with human-readable, optionally
// colored output:
//
//	[2026-01-02 15:04:05] [INFO] stored artifact artifact_id=... bytes=5
type TextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	groups   []string
	useColor bool
}

// NewTextHandler creates a new TextHandler.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *TextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &TextHandler{
		opts:     opts,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: useColor,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record.
func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	levelStr := h.formatLevel(r.Level)

	// Build output in a local buffer; only lock for the write.
	var buf []byte
	buf = fmt.Appendf(buf, "[%s] [%s] %s", timestamp, levelStr, r.Message)

	for _, attr := range h.attrs {
		buf = h.appendAttr(buf, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *TextHandler) formatLevel(level slog.Level) string {
	var name, color string
	switch {
	case level >= slog.LevelError:
		name, color = "ERROR", colorRed
	case level >= slog.LevelWarn:
		name, color = "WARN", colorYellow
	case level >= slog.LevelInfo:
		name, color = "INFO", colorGreen
	default:
		name, color = "DEBUG", colorCyan
	}
	if !h.useColor {
		return name
	}
	return color + name + colorReset
}

func (h *TextHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := a.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	if h.useColor {
		return fmt.Appendf(buf, " %s%s=%s%v", colorGray, key, colorReset, a.Value.Resolve())
	}
	return fmt.Appendf(buf, " %s=%v", key, a.Value.Resolve())
}

// WithAttrs returns a new handler with the given attributes added.
func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup returns a new handler with the given group name.
func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}
