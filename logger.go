package gpuflow

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpuflow/driver"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpuflow and every registered driver
// that accepts one. By default gpuflow produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by gpuflow:
//   - [slog.LevelDebug]: per-operation details (buffer sizes, dispatch sizes)
//   - [slog.LevelInfo]: lifecycle events (adapter selected, device closed)
//   - [slog.LevelWarn]: recoverable trouble (wait timeouts, over-release)
//   - [slog.LevelError]: device loss
//
// Example:
//
//	gpuflow.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	for _, name := range driver.Available() {
		if d := driver.Get(name); d != nil {
			propagateLogger(d, l)
		}
	}
}

// Logger returns the current gpuflow logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by drivers that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(d driver.Driver, l *slog.Logger) {
	if ls, ok := d.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
