// Package obs provides the structured logging handler shared across the
// agent. It follows the same level-gated, multi-output handler shape used
// throughout the rest of the codebase, adapted for use as a library
// dependency rather than a process-wide singleton.
package obs

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// levelHandler is an slog.Handler that writes formatted lines to one or more
// writers, gated by a mutable minimum level.
type levelHandler struct {
	mu    sync.Mutex
	outs  []io.Writer
	level *slog.LevelVar
	attrs []slog.Attr
}

// NewHandler builds an slog.Handler writing to outs, filtered by level. If
// level is nil, slog.LevelInfo is used and cannot be changed later.
func NewHandler(level *slog.LevelVar, outs ...io.Writer) slog.Handler {
	if level == nil {
		level = new(slog.LevelVar)
		level.Set(slog.LevelInfo)
	}
	return &levelHandler{outs: outs, level: level}
}

// New builds a ready-to-use *slog.Logger writing to outs.
func New(level *slog.LevelVar, outs ...io.Writer) *slog.Logger {
	return slog.New(NewHandler(level, outs...))
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timestamp := record.Time.Format("15:04:05.000")
	var attrs []string
	for _, a := range h.attrs {
		attrs = append(attrs, a.Key+"="+a.Value.String())
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key+"="+a.Value.String())
		return true
	})

	line := "[" + timestamp + "] [" + strings.ToUpper(record.Level.String()) + "] " + record.Message
	if len(attrs) > 0 {
		line += " " + strings.Join(attrs, " ")
	}
	line += "\n"

	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(line))
		}
	}
	return nil
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &levelHandler{outs: h.outs, level: h.level}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *levelHandler) WithGroup(_ string) slog.Handler {
	return h
}

// ParseLevel parses a config string ("debug", "info", "warn", "error") into
// an slog.Level, defaulting to Info on anything unrecognized.
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
