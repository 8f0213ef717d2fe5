// Package log provides structured logging utilities for blockmine.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bardlex/blockmine/pkg/errors"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout with the specified configuration
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a new logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: ParseLevel(level) == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID := ctx.Value("run_id"); runID != nil {
		logger = logger.With("run_id", runID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithBlock returns a logger with block-specific fields
func (l *Logger) WithBlock(generation uint64, difficulty uint8) *Logger {
	return l.WithFields("generation", generation, "difficulty", difficulty)
}

// WithError returns a logger with error context. ServiceErrors also add
// their type, operation and context fields.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields(append([]any{"error", err.Error()}, errors.Fields(err)...)...)
}

// Performance logging helpers

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration.Nanoseconds(),
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count uint64, duration time.Duration) {
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ns", duration.Nanoseconds(),
		"throughput_ops_sec", Rate(count, duration),
	)
}

// Rate returns count per second, zero for an empty duration
func Rate(count uint64, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(count) / duration.Seconds()
}

// Mining-specific logging helpers

// LogSearchStarted logs the start of a proof search over [start, end]
func (l *Logger) LogSearchStarted(start, end, chunks uint64, workers int) {
	l.Debug("proof search started",
		"range_start", start,
		"range_end", end,
		"chunks", chunks,
		"workers", workers,
	)
}

// LogBlockMined logs when a block is mined
func (l *Logger) LogBlockMined(blockHash string, generation uint64, difficulty uint8, proof uint64, duration time.Duration) {
	l.Info("block mined",
		"block_hash", blockHash,
		"generation", generation,
		"difficulty", difficulty,
		"proof", proof,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogQueueShutdown logs work queue teardown counters
func (l *Logger) LogQueueShutdown(workers int, completed, produced, dropped int64, duration time.Duration) {
	l.Debug("work queue shut down",
		"workers", workers,
		"tasks_completed", completed,
		"results_produced", produced,
		"tasks_dropped", dropped,
		"join_ms", float64(duration.Nanoseconds())/1e6,
	)
}
