//go:build !nogpu

package halgpu

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Register the platform backends (Vulkan, Metal, DX12, GLES) and the
	// software fallback.
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/gpuprim/gpucore"
)

// ErrNoAdapter is returned when no registered backend exposes a usable
// adapter.
var ErrNoAdapter = errors.New("halgpu: no suitable GPU adapter")

// defaultBackends is the order Open tries backends in. The empty backend
// (software or noop, whichever is registered) comes last.
var defaultBackends = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

// Options selects the adapter Open uses.
type Options struct {
	// Backends restricts and orders the backends tried. Empty means every
	// registered backend, hardware first.
	Backends []gputypes.Backend

	// PowerPreference ranks adapters of one backend.
	PowerPreference gputypes.PowerPreference

	// AdapterName keeps only adapters whose name contains it,
	// case-insensitively.
	AdapterName string

	// Limits overrides the limits requested from the adapter.
	Limits *gputypes.Limits
}

// AdapterDesc describes an adapter a backend exposes.
type AdapterDesc struct {
	Backend gputypes.Backend
	Name    string
	Vendor  string
	Driver  string
	Type    gpucontext.AdapterType
}

// ParseBackend maps a backend name to its HAL identifier. "software" and
// "noop" both name the empty backend.
func ParseBackend(s string) (gputypes.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vulkan", "vk":
		return gputypes.BackendVulkan, nil
	case "metal", "mtl":
		return gputypes.BackendMetal, nil
	case "dx12", "d3d12":
		return gputypes.BackendDX12, nil
	case "gl", "gles", "opengl":
		return gputypes.BackendGL, nil
	case "software", "noop", "empty":
		return gputypes.BackendEmpty, nil
	default:
		return 0, fmt.Errorf("halgpu: unknown backend %q", s)
	}
}

// BackendName returns the lower-case name used in AdapterInfo.Backend.
func BackendName(b gputypes.Backend) string {
	if b == gputypes.BackendEmpty {
		return "software"
	}
	return strings.ToLower(b.String())
}

// Open creates a Device on the best adapter the options allow.
func Open(opts Options) (*Device, error) {
	var errs []error
	for _, variant := range backendOrder(opts.Backends) {
		backend, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		dev, err := openBackend(backend, opts)
		if err == nil {
			return dev, nil
		}
		slogger().Debug("halgpu: backend unavailable", "backend", BackendName(variant), "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoAdapter
	}
	return nil, fmt.Errorf("%w: %w", ErrNoAdapter, errors.Join(errs...))
}

func backendOrder(requested []gputypes.Backend) []gputypes.Backend {
	if len(requested) > 0 {
		return requested
	}
	return defaultBackends
}

// openBackend opens the first suitable adapter of one backend.
func openBackend(backend hal.Backend, opts Options) (*Device, error) {
	name := BackendName(backend.Variant())
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Backends: gputypes.BackendsAll})
	if err != nil {
		return nil, fmt.Errorf("%s: create instance: %w", name, err)
	}

	adapters := rankAdapters(instance.EnumerateAdapters(nil), opts)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%s: no matching adapters", name)
	}

	var errs []error
	for i := range adapters {
		a := &adapters[i]
		limits := a.Capabilities.Limits
		if opts.Limits != nil {
			limits = *opts.Limits
		}
		open, err := a.Adapter.Open(gputypes.Features(0), limits)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: open %q: %w", name, a.Info.Name, err))
			continue
		}
		d := newDevice(open.Device, open.Queue, gpucore.AdapterInfo{
			Name:    a.Info.Name,
			Backend: name,
			Type:    adapterType(a.Info.DeviceType),
		}, limits)
		d.instance = instance
		slogger().Info("halgpu: adapter selected",
			"name", a.Info.Name, "backend", name, "type", d.info.Type, "driver", a.Info.Driver)
		return d, nil
	}
	instance.Destroy()
	return nil, errors.Join(errs...)
}

// rankAdapters filters by name and orders by power preference: discrete
// first for high performance, integrated first for low power. The sort is
// stable so the backend's own order breaks ties.
func rankAdapters(adapters []hal.ExposedAdapter, opts Options) []hal.ExposedAdapter {
	want := strings.ToLower(opts.AdapterName)
	out := adapters[:0:0]
	for _, a := range adapters {
		if want != "" && !strings.Contains(strings.ToLower(a.Info.Name), want) {
			continue
		}
		out = append(out, a)
	}
	rank := func(t gputypes.DeviceType) int {
		switch t {
		case gputypes.DeviceTypeDiscreteGPU:
			if opts.PowerPreference == gputypes.PowerPreferenceLowPower {
				return 1
			}
			return 0
		case gputypes.DeviceTypeIntegratedGPU:
			if opts.PowerPreference == gputypes.PowerPreferenceLowPower {
				return 0
			}
			return 1
		case gputypes.DeviceTypeVirtualGPU:
			return 2
		case gputypes.DeviceTypeCPU:
			return 4
		default:
			return 3
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Info.DeviceType) < rank(out[j].Info.DeviceType)
	})
	return out
}

// Adapters lists the adapters of every registered backend without opening
// them.
func Adapters() []AdapterDesc {
	var out []AdapterDesc
	for _, variant := range defaultBackends {
		backend, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Backends: gputypes.BackendsAll})
		if err != nil {
			slogger().Debug("halgpu: backend unavailable", "backend", BackendName(variant), "err", err)
			continue
		}
		for _, a := range instance.EnumerateAdapters(nil) {
			out = append(out, AdapterDesc{
				Backend: variant,
				Name:    a.Info.Name,
				Vendor:  a.Info.Vendor,
				Driver:  a.Info.Driver,
				Type:    adapterType(a.Info.DeviceType),
			})
		}
		instance.Destroy()
	}
	return out
}

// FromProvider wraps a HAL device shared by a host application. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue; a gpucontext.DeviceProvider, when also
// implemented, supplies the adapter info. The returned Device never
// destroys the provider's device or queue.
func FromProvider(provider any) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("halgpu: provider %T does not expose HAL types", provider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("halgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("halgpu: provider HalQueue is not hal.Queue")
	}

	info := gpucore.AdapterInfo{Name: "shared device", Backend: "external", Type: gpucontext.AdapterTypeUnknown}
	if dp, ok := provider.(interface{ AdapterInfo() gpucontext.AdapterInfo }); ok {
		ai := dp.AdapterInfo()
		if ai.Name != "" {
			info.Name = ai.Name
		}
		info.Type = ai.Type
	}
	limits := gputypes.DefaultLimits()
	if lp, ok := provider.(interface{ Limits() gputypes.Limits }); ok {
		limits = lp.Limits()
	}

	d := newDevice(device, queue, info, limits)
	d.external = true
	slogger().Info("halgpu: using shared device", "name", info.Name, "type", info.Type)
	return d, nil
}
