// Package logger provides a small structured-logging facade over log/slog.
//
// The shape (Debug/Debugf/Debugw, Info/Infof/Infow, ...) mirrors toolhive's
// pkg/logger API. toolhive backs its facade with a private module
// (stacklok/toolhive-core/logging); since that module cannot be fetched by a
// downstream repository, this package reimplements the same facade directly
// over the standard library's slog, which is what that private module wraps
// in the first place.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}

// Initialize (re)configures the package-level logger. level is one of
// "debug", "info", "warn", "error"; unstructured selects a human-readable
// text handler instead of JSON, useful for local/interactive runs.
func Initialize(level string, unstructured bool) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if unstructured {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	singleton.Store(slog.New(handler))
}

// L returns the current package-level *slog.Logger, for components that want
// to attach persistent fields via .With(...).
func L() *slog.Logger { return singleton.Load() }

// WithContext returns a logger that will emit any slog-recognized fields
// attached to ctx (currently none; reserved for trace-id propagation).
func WithContext(_ context.Context) *slog.Logger { return singleton.Load() }

func Debug(msg string)                          { singleton.Load().Debug(msg) }
func Debugf(format string, args ...any)          { singleton.Load().Debug(sprintf(format, args...)) }
func Debugw(msg string, kv ...any)               { singleton.Load().Debug(msg, kv...) }
func Info(msg string)                            { singleton.Load().Info(msg) }
func Infof(format string, args ...any)           { singleton.Load().Info(sprintf(format, args...)) }
func Infow(msg string, kv ...any)                { singleton.Load().Info(msg, kv...) }
func Warn(msg string)                             { singleton.Load().Warn(msg) }
func Warnf(format string, args ...any)           { singleton.Load().Warn(sprintf(format, args...)) }
func Warnw(msg string, kv ...any)                { singleton.Load().Warn(msg, kv...) }
func Error(msg string)                            { singleton.Load().Error(msg) }
func Errorf(format string, args ...any)          { singleton.Load().Error(sprintf(format, args...)) }
func Errorw(msg string, kv ...any)               { singleton.Load().Error(msg, kv...) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
