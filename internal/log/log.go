// Package log provides structured logging for go-stereomark.
// It wraps slog with sensible defaults for production use.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// FileOptions configures the optional rotating log file.
type FileOptions struct {
	Path       string // Empty disables file output
	MaxSizeMB  int    // Rotate after this many megabytes
	MaxBackups int    // Rotated files to keep
	MaxAgeDays int    // Days to keep rotated files
}

// ParseLevel maps a level name to a slog level.
// Valid levels: "debug", "info", "warn", "error"
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

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	InitWithFile(level, FileOptions{})
}

// InitWithFile initializes the global logger, additionally writing to a
// rotating file when opts.Path is set. Only the first Init call takes effect.
func InitWithFile(level string, opts FileOptions) {
	once.Do(func() {
		var out io.Writer = os.Stdout
		if opts.Path != "" {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   opts.Path,
				MaxSize:    orDefault(opts.MaxSizeMB, 50),
				MaxBackups: orDefault(opts.MaxBackups, 3),
				MaxAge:     orDefault(opts.MaxAgeDays, 14),
			})
		}
		logger = New(out, ParseLevel(level))
		slog.SetDefault(logger)
	})
}

// New builds a logger writing to w.
// Uses JSON in production, text in development.
func New(w io.Writer, lvl slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	if os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string, args ...any) *slog.Logger {
	return L().With(append([]any{"component", name}, args...)...)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
