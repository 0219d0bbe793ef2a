package gpucore

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpucontext"
)

// Resource IDs
//
// These opaque IDs represent GPU objects. Each device implementation
// keeps the mapping between IDs and its native objects.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group (descriptor set).
type BindGroupID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// SubmissionIndex identifies one queue submission. Indices increase
// monotonically per device.
type SubmissionIndex uint64

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageIndirect indicates the buffer can be used for indirect dispatch.
	BufferUsageIndirect BufferUsage = 1 << 8
)

// BufferUsageScratch is the usage every primitive expects of its data and
// scratch buffers: bound as storage, cleared, and copied in both directions.
const BufferUsageScratch = BufferUsageStorage | BufferUsageCopySrc | BufferUsageCopyDst

// String returns the set flags joined by '|'.
func (u BufferUsage) String() string {
	if u == 0 {
		return "none"
	}
	names := []struct {
		bit  BufferUsage
		name string
	}{
		{BufferUsageMapRead, "map_read"},
		{BufferUsageMapWrite, "map_write"},
		{BufferUsageCopySrc, "copy_src"},
		{BufferUsageCopyDst, "copy_dst"},
		{BufferUsageUniform, "uniform"},
		{BufferUsageStorage, "storage"},
		{BufferUsageIndirect, "indirect"},
	}
	var parts []string
	for _, n := range names {
		if u&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer
)

// String returns the WGSL-style name of the binding type.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "uniform"
	case BindingTypeStorageBuffer:
		return "storage,read_write"
	case BindingTypeReadOnlyStorageBuffer:
		return "storage,read"
	default:
		return fmt.Sprintf("BindingType(%d)", uint32(t))
	}
}

// Writable reports whether shaders may write through the binding.
func (t BindingType) Writable() bool {
	return t == BindingTypeStorageBuffer
}

// BufferDesc describes a buffer to allocate.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage is the set of allowed usages.
	Usage BufferUsage

	// HostVisible requests memory the host can map.
	HostVisible bool

	// PersistentMap keeps a host-visible buffer mapped for its whole
	// lifetime and exposes the mapping as Buffer.Mapped.
	PersistentMap bool
}

// Buffer is a device buffer handle.
type Buffer struct {
	ID          BufferID
	Label       string
	Size        uint64
	Usage       BufferUsage
	HostVisible bool

	// Mapped is the persistent host mapping, nil unless requested.
	Mapped []byte
}

// String returns a short description for logs and panics.
func (b *Buffer) String() string {
	if b == nil {
		return "<nil buffer>"
	}
	return fmt.Sprintf("%s#%d(%dB)", b.Label, b.ID, b.Size)
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType

	// MinBindingSize is the minimum buffer size; 0 disables the check.
	MinBindingSize uint64
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind.
	Buffer *Buffer

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the bound range. 0 binds the rest of the buffer.
	Size uint64
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Kernel names the kernel the source implements. Devices that do not
	// compile shaders (the reference device) dispatch on it.
	Kernel string

	// WGSL is the shader source.
	WGSL string

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string

	// Layouts are the bind group layouts, one per group index.
	Layouts []BindGroupLayoutID

	// Workgroup is the reflected workgroup size.
	Workgroup [3]uint32
}

// AdapterInfo describes the device's physical adapter.
type AdapterInfo struct {
	// Name is the adapter name reported by the driver.
	Name string

	// Backend is the graphics API in use ("vulkan", "metal", "reference"...).
	Backend string

	// Type classifies the adapter the same way gpucontext does.
	Type gpucontext.AdapterType
}

// String returns "name (backend, type)".
func (i AdapterInfo) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Name, i.Backend, i.Type)
}
