package gpuprim

import (
	"log/slog"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.labelPrefix != "gpuprim" {
		t.Errorf("labelPrefix = %q, want %q", o.labelPrefix, "gpuprim")
	}
	if o.validate {
		t.Error("validation should be off by default")
	}
	if o.waitTimeout != 0 {
		t.Errorf("waitTimeout = %v, want 0", o.waitTimeout)
	}
	if o.logger != nil {
		t.Error("logger should default to the package logger")
	}
}

func TestOptionsApply(t *testing.T) {
	l := slog.Default()
	o := defaultOptions()
	for _, opt := range []Option{
		WithLogger(l),
		WithLabelPrefix("shadows"),
		WithValidation(true),
		WithWaitTimeout(time.Second),
	} {
		opt(&o)
	}

	if o.logger != l {
		t.Error("WithLogger not applied")
	}
	if o.labelPrefix != "shadows" {
		t.Errorf("labelPrefix = %q, want %q", o.labelPrefix, "shadows")
	}
	if !o.validate {
		t.Error("WithValidation not applied")
	}
	if o.waitTimeout != time.Second {
		t.Errorf("waitTimeout = %v, want 1s", o.waitTimeout)
	}
}

func TestContextUsesOptions(t *testing.T) {
	pc, _ := newTestContext(t, WithLabelPrefix("x"), WithWaitTimeout(time.Minute))
	if got := pc.label("scan"); got != "x scan" {
		t.Errorf("label() = %q, want %q", got, "x scan")
	}
	if pc.opts.waitTimeout != time.Minute {
		t.Errorf("waitTimeout = %v, want 1m", pc.opts.waitTimeout)
	}
	if pc.log() != Logger() {
		t.Error("log() should fall back to the package logger")
	}
}
