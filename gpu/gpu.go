//go:build !nogpu

// Package gpu opens gpucore devices on real GPUs through gogpu/wgpu's HAL.
//
// Importing it registers every HAL backend built for the platform (Vulkan,
// Metal, DX12, GLES and the software rasterizer). Open picks an adapter;
// FromProvider wraps a device an application already owns, such as the one
// a gogpu window renders with.
//
// Usage:
//
//	dev, err := gpu.Open(gpu.Options{PowerPreference: gputypes.PowerPreferenceHighPerformance})
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//	pc := gpuprim.New(dev)
//
// Build with -tags nogpu to leave the package, and the HAL with it, out.
package gpu

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/internal/halgpu"
)

// Device is a gpucore.Device backed by a HAL device and queue.
type Device = halgpu.Device

// Options selects the backend and adapter Open uses.
type Options = halgpu.Options

// AdapterDesc describes an adapter without opening it.
type AdapterDesc = halgpu.AdapterDesc

// ErrNoAdapter is returned by Open when no backend yields a usable adapter.
var ErrNoAdapter = halgpu.ErrNoAdapter

var _ gpucore.Device = (*Device)(nil)

// Open tries the requested backends in order and opens the best ranked
// adapter of the first one that works.
func Open(opts Options) (*Device, error) { return halgpu.Open(opts) }

// FromProvider wraps the HAL device of a gpucontext.DeviceProvider that
// also exposes HalDevice() and HalQueue(). Destroy on the result releases
// only what gpuprim created; the provider keeps the device.
func FromProvider(provider any) (*Device, error) { return halgpu.FromProvider(provider) }

// Adapters lists the adapters of every registered backend.
func Adapters() []AdapterDesc { return halgpu.Adapters() }

// ParseBackend maps a backend name such as "vulkan", "metal", "dx12", "gl"
// or "software" to its gputypes value.
func ParseBackend(s string) (gputypes.Backend, error) { return halgpu.ParseBackend(s) }

// BackendName is the inverse of ParseBackend.
func BackendName(b gputypes.Backend) string { return halgpu.BackendName(b) }
