package gpuprim

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpuprim/gpucore"
)

// Errors returned by gpuprim.
var (
	// ErrDeviceLost means the device stopped executing work. Recreate the
	// device and the Context.
	ErrDeviceLost = gpucore.ErrDeviceLost

	// ErrNotMappable is returned for host access to a device-only buffer.
	ErrNotMappable = gpucore.ErrNotMappable

	// ErrKernelNotFound is returned when a kernel name has no shader.
	ErrKernelNotFound = gpucore.ErrKernelNotFound

	// ErrLayoutMismatch is returned when a shader's reflected interface
	// differs from the bindings a primitive records.
	ErrLayoutMismatch = errors.New("gpuprim: shader layout mismatch")

	// ErrMissingBarrier is reported by devices that check hazards, such as
	// the reference device, for commands that depend on earlier writes
	// without a barrier.
	ErrMissingBarrier = gpucore.ErrMissingBarrier

	// ErrClosed is returned by a closed Context.
	ErrClosed = errors.New("gpuprim: context closed")
)

// precondition panics with a gpuprim-prefixed message when cond is false.
// Preconditions on primitive arguments are checked this way.
func precondition(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("gpuprim: "+format, args...))
	}
}

// check wraps a device error with the operation that produced it and logs
// it together with the last command recorded before the failure.
func check(log *slog.Logger, op, checkpoint string, err error) error {
	if err == nil {
		return nil
	}
	if checkpoint == "" {
		checkpoint = "none"
	}
	log.Error("gpuprim: device call failed",
		"op", op,
		"checkpoint", checkpoint,
		"device_lost", errors.Is(err, ErrDeviceLost),
		"err", err)
	return fmt.Errorf("gpuprim: %s: %w", op, err)
}
