package pagedb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a slog.Logger that knows the events of a DB. Every event carries
// the same keys so that logs of different containers can be joined.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler. A nil handler logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("pagedb: invalid log level %q", s)
	}
	return level, nil
}

// newConfiguredLogger writes to w in format "text" (alias "console") or
// "json" at the named level.
func newConfiguredLogger(w io.Writer, format, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text", "console":
		return NewLogger(slog.NewTextHandler(w, opts)), nil
	case "json":
		return NewLogger(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("pagedb: invalid log format %q", format)
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContainer tags events with the container kind and name.
func (l *Logger) WithContainer(kind Kind, name string) *Logger {
	return l.with("kind", kind.String(), "container", name)
}

// WithPool tags events with a pool number.
func (l *Logger) WithPool(no uint8) *Logger {
	return l.with("pool", no)
}

// outcome logs ok at info level on success and failed at error level otherwise.
func (l *Logger) outcome(ctx context.Context, ok, failed string, err error, attrs ...slog.Attr) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, failed, append(attrs, slog.Any("error", err))...)
		return
	}
	l.LogAttrs(ctx, slog.LevelInfo, ok, attrs...)
}

// LogSave reports a triad save of n bytes.
func (l *Logger) LogSave(ctx context.Context, path string, n int64, took time.Duration, err error) {
	l.outcome(ctx, "triad saved", "save failed", err,
		slog.String("path", path), slog.Int64("bytes", n), slog.Duration("duration", took))
}

// LogLoad reports a triad load. Corrupt images get their own message.
func (l *Logger) LogLoad(ctx context.Context, path string, pool uint8, took time.Duration, err error) {
	failed := "load failed"
	if IsIntegrity(err) {
		failed = "triad is corrupt"
	}
	l.outcome(ctx, "triad loaded", failed, err,
		slog.String("path", path), slog.Any("pool", pool), slog.Duration("duration", took))
}

// LogPublish reports the upload of generation under key.
func (l *Logger) LogPublish(ctx context.Context, key string, generation uint64, err error) {
	l.outcome(ctx, "triad published", "publish failed", err,
		slog.String("key", key), slog.Uint64("generation", generation))
}

// LogFetch reports the download of the committed generation of key.
func (l *Logger) LogFetch(ctx context.Context, key string, generation uint64, err error) {
	l.outcome(ctx, "triad fetched", "fetch failed", err,
		slog.String("key", key), slog.Uint64("generation", generation))
}

// LogDrop reports a container being released.
func (l *Logger) LogDrop(ctx context.Context, pool uint8, err error) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelWarn, "drop failed", slog.Any("pool", pool), slog.Any("error", err))
		return
	}
	l.LogAttrs(ctx, slog.LevelDebug, "container dropped", slog.Any("pool", pool))
}
