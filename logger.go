package gpuprim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpuprim and the devices its contexts
// use. By default, gpuprim produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the default
// silent behavior.
//
// Log levels used by gpuprim:
//   - [slog.LevelDebug]: dispatch details (kernel, workgroups, pass counts)
//   - [slog.LevelInfo]: lifecycle events (adapter selected, context closed)
//   - [slog.LevelError]: failed device calls, with the last recorded command
//
// Example:
//
//	gpuprim.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	devicesMu.Lock()
	defer devicesMu.Unlock()
	for dev := range devices {
		dev.SetLogger(l)
	}
}

// Logger returns the current logger used by gpuprim.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// devices holds the logging-capable devices of open contexts, so that
// SetLogger reaches them.
var (
	devicesMu sync.Mutex
	devices   = make(map[loggerSetter]int)
)

func registerDevice(dev any, l *slog.Logger) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(l)
	devicesMu.Lock()
	devices[ls]++
	devicesMu.Unlock()
}

func unregisterDevice(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[ls]--; devices[ls] <= 0 {
		delete(devices, ls)
	}
}
