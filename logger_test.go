package gpuprim

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gpuprim/internal/refgpu"
)

func TestNopHandlerDiscardsEverything(t *testing.T) {
	var h slog.Handler = nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("groups", 4)}).(nopHandler); !ok {
		t.Error("WithAttrs() left the nop handler")
	}
	if _, ok := h.WithGroup("dispatch").(nopHandler); !ok {
		t.Error("WithGroup() left the nop handler")
	}
}

func TestLoggerSilentByDefault(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() = nil")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("the package logger logs before SetLogger")
	}
}

func TestSetLoggerRoundTrip(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("Logger() is not the logger passed to SetLogger")
	}
	Logger().Debug("gpuprim: kernel built", "kernel", "reduce_add_u32")
	if !strings.Contains(buf.String(), "kernel=reduce_add_u32") {
		t.Errorf("log output %q lacks the kernel attribute", buf.String())
	}

	SetLogger(nil)
	if l := Logger(); l == nil || l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) did not restore the silent logger")
	}
}

// loggingDevice is a reference device that records the logger it is
// given.
type loggingDevice struct {
	*refgpu.Device

	mu     sync.Mutex
	logger *slog.Logger
}

func (d *loggingDevice) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
}

func (d *loggingDevice) current() *slog.Logger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logger
}

func TestSetLoggerPropagatesToDevice(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	dev := &loggingDevice{Device: refgpu.New()}
	pc := New(dev)
	if dev.current() != Logger() {
		t.Error("New did not hand the package logger to the device")
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)
	if dev.current() != custom {
		t.Error("SetLogger did not propagate to the device via loggerSetter")
	}

	if err := pc.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	other := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(other)
	if dev.current() != custom {
		t.Error("SetLogger reached the device of a closed context")
	}
}

func TestSharedDeviceStaysRegistered(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	dev := &loggingDevice{Device: refgpu.New()}
	a, b := New(dev), New(dev)
	t.Cleanup(func() { _ = b.Close() })
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)
	if dev.current() != custom {
		t.Error("closing one of two contexts unregistered their shared device")
	}
}

func TestContextLoggerOverridesPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))
	dev := &loggingDevice{Device: refgpu.New()}
	pc := New(dev, WithLogger(custom))
	t.Cleanup(func() { _ = pc.Close() })

	if dev.current() != custom {
		t.Error("WithLogger logger not handed to the device")
	}
	if !strings.Contains(buf.String(), "context created") {
		t.Errorf("expected creation to be logged, got: %s", buf.String())
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	const goroutines = 100

	// Concurrent readers.
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := Logger()
			if l == nil {
				t.Error("Logger() returned nil during concurrent access")
			}
			// Must not panic.
			l.Debug("concurrent read")
		}()
	}

	// Concurrent writers.
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
			SetLogger(nil)
		}()
	}

	wg.Wait()
}
