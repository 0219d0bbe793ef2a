package gpuprim

import (
	"log/slog"
	"time"
)

// Option configures a Context during creation.
//
// Example:
//
//	pc := gpuprim.New(dev,
//	    gpuprim.WithLabelPrefix("lights"),
//	    gpuprim.WithValidation(true))
type Option func(*options)

// options holds optional configuration for Context creation.
type options struct {
	logger      *slog.Logger
	labelPrefix string
	validate    bool
	waitTimeout time.Duration
}

// defaultOptions returns the default context options.
func defaultOptions() options {
	return options{labelPrefix: "gpuprim"}
}

// WithLogger sets a logger for this Context only. Without it the Context
// logs through the package logger (see SetLogger).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLabelPrefix sets the prefix of every GPU object label the Context
// creates. Labels show up in driver validation messages and captures.
func WithLabelPrefix(prefix string) Option {
	return func(o *options) {
		o.labelPrefix = prefix
	}
}

// WithValidation makes kernel construction parse and validate each shader
// with naga and compare its reflected bindings with the ones the
// primitives bind. Mismatches fail with ErrLayoutMismatch.
func WithValidation(enabled bool) Option {
	return func(o *options) {
		o.validate = enabled
	}
}

// WithWaitTimeout bounds every Submission.Wait. Zero means no bound
// beyond the caller's context.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}
