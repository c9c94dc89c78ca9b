// Package debug provides global debug logging flags
package debug

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var (
	enabled atomic.Bool
	ticks   atomic.Bool
)

// SetEnabled turns general debug logging on or off.
func SetEnabled(on bool) { enabled.Store(on) }

// SetTicks turns per-tick tracing on or off.
// Use --debug-ticks to enable these very verbose logs (one line per render tick).
func SetTicks(on bool) { ticks.Store(on) }

// Log writes msg at info level only if debug mode is enabled.
func Log(l *slog.Logger, msg string, args ...any) {
	if enabled.Load() {
		l.Log(context.Background(), slog.LevelInfo, msg, args...)
	}
}

// TickLog writes msg only if tick tracing is enabled.
func TickLog(l *slog.Logger, msg string, args ...any) {
	if ticks.Load() {
		l.Log(context.Background(), slog.LevelInfo, msg, args...)
	}
}
