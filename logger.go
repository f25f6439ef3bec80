package numindex

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds the backing file path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogOpen logs opening an index.
func (l *Logger) LogOpen(ctx context.Context, entries int64, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index open failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index opened",
			"entries", entries,
			"generation", generation,
		)
	}
}

// LogRecovery logs that the previous session did not shut down cleanly.
func (l *Logger) LogRecovery(ctx context.Context, generation uint64) {
	l.WarnContext(ctx, "index was not shut down cleanly, cleanup scheduled",
		"generation", generation,
	)
}

// LogClose logs closing an index.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index close failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index closed")
	}
}

// LogDrop logs dropping an index.
func (l *Logger) LogDrop(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index drop failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index dropped")
	}
}

// LogCheckpoint logs a checkpoint.
func (l *Logger) LogCheckpoint(ctx context.Context, entries, pages int64, skipped bool, duration time.Duration, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "checkpoint failed",
			"error", err,
		)
	case skipped:
		l.DebugContext(ctx, "checkpoint skipped, no changes")
	default:
		l.InfoContext(ctx, "checkpoint completed",
			"entries", entries,
			"pages", pages,
			"duration", duration,
		)
	}
}

// LogUpdaterSession logs the end of an updater session.
func (l *Logger) LogUpdaterSession(ctx context.Context, mode UpdateMode, processed, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "updater session closed with failures",
			"mode", mode.String(),
			"processed", processed,
			"failed", failed,
		)
	} else {
		l.DebugContext(ctx, "updater session closed",
			"mode", mode.String(),
			"processed", processed,
		)
	}
}
