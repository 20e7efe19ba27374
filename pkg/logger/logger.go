// Package logger configures the process-wide slog logger and carries
// envelope correlation fields through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey struct{}

type correlation struct {
	room       string
	sequenceID int64
}

// Setup installs a text or JSON handler on stdout as the default logger.
func Setup(level string, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. Any format other than "json" yields text.
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithEnvelope records the correlation fields of the envelope being handled.
func WithEnvelope(ctx context.Context, room string, sequenceID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, correlation{room: room, sequenceID: sequenceID})
}

// FromContext returns base annotated with any correlation fields in ctx.
// A nil base means slog.Default().
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if c, ok := ctx.Value(contextKey{}).(correlation); ok {
		return base.With("room", c.room, "sequence_id", c.sequenceID)
	}
	return base
}

// ParseLevel maps debug, warn and error to their slog levels; anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
