package seedmap

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/b1naryth1ef/seedmap/gpu"
)

// nopHandler is a slog.Handler that discards every record.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger for seedmap and its sub-packages. By
// default nothing is logged. Pass nil to silence logging again.
//
// Levels used:
//   - Debug: uploads, allocations, per-action execution
//   - Info: lifecycle (manager created, host started)
//   - Warn: evictions, renders skipped for unknown seeds, failed actions
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
	gpu.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func subsystemLogger(name string) *slog.Logger {
	return Logger().With("subsystem", name)
}
