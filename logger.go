package anda

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// Logger wraps slog.Logger with engine-specific helpers, following the
// teacher's thin-wrapper pattern: structured fields, info on success,
// error on failure.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps an existing slog.Handler. A nil handler falls back to a
// text handler on stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON lines at the given level.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards all output. Useful for tests and embedders who wire
// their own observability.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// WithCollection scopes the logger to a collection name.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{Logger: l.Logger.With("collection", name)}
}

// LogCommit logs a collection commit, including the flushed byte size in a
// human-readable form.
func (l *Logger) LogCommit(ctx context.Context, tx uint64, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed", "tx", tx, "error", err)
		return
	}
	l.InfoContext(ctx, "commit", "tx", tx, "flushed", humanize.Bytes(uint64(bytes)))
}

// LogCompaction logs a compaction pass over a text or B-tree segment set.
func (l *Logger) LogCompaction(ctx context.Context, kind string, before, after int, bytesReclaimed int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed", "kind", kind, "error", err)
		return
	}
	l.InfoContext(ctx, "compaction completed",
		"kind", kind,
		"segments_before", before,
		"segments_after", after,
		"reclaimed", humanize.Bytes(uint64(bytesReclaimed)),
	)
}

// LogRecovery logs WAL replay outcome.
func (l *Logger) LogRecovery(ctx context.Context, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "wal recovery failed", "entries_replayed", entriesReplayed, "error", err)
		return
	}
	l.InfoContext(ctx, "wal recovery completed", "entries_replayed", entriesReplayed)
}

// LogGenesis logs the meta-schema bootstrap.
func (l *Logger) LogGenesis(ctx context.Context, created int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "genesis failed", "error", err)
		return
	}
	l.InfoContext(ctx, "genesis completed", "bootstrap_concepts", created)
}
