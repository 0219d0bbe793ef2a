package gpucore

import (
	"context"
	"errors"

	"github.com/gogpu/gputypes"
)

// Errors reported by Device implementations.
var (
	// ErrDeviceLost means the device can no longer execute work. It is not
	// recoverable; the device has to be recreated.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrNotMappable is returned when host access is requested for a buffer
	// that was not created host-visible.
	ErrNotMappable = errors.New("gpucore: buffer is not host-visible")

	// ErrUnknownID is returned for IDs that were never created or were
	// already destroyed.
	ErrUnknownID = errors.New("gpucore: unknown resource id")

	// ErrEncoderFinished is returned when an encoder is used after Finish
	// or Discard.
	ErrEncoderFinished = errors.New("gpucore: command encoder already finished")

	// ErrKernelNotFound is returned by CreateComputePipeline when the device
	// has no implementation of the named kernel.
	ErrKernelNotFound = errors.New("gpucore: kernel not found")

	// ErrMissingBarrier is returned by devices that check hazards when a
	// command reads or overwrites a range an earlier command wrote without
	// a barrier in between.
	ErrMissingBarrier = errors.New("gpucore: missing barrier")
)

// Device abstracts over the GPU implementations the primitives run on.
//
// It is the narrow surface the compute primitives consume: buffer
// allocation, bind groups, compute pipelines, command recording and
// submission. Implementations must be safe for concurrent use, although a
// single CommandEncoder is used from one goroutine at a time.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource still referenced by pending work is undefined
//     behavior; callers defer destruction with resource.Container
type Device interface {
	// Info describes the adapter behind the device.
	Info() AdapterInfo

	// Limits returns the device limits.
	Limits() gputypes.Limits

	// CreateBuffer allocates a buffer.
	CreateBuffer(desc *BufferDesc) (*Buffer, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(buf *Buffer)

	// WriteBuffer uploads data through the queue. The write is ordered
	// before any later submission.
	WriteBuffer(buf *Buffer, offset uint64, data []byte) error

	// ReadBuffer copies a range of a buffer back to the host, waiting for
	// all previously submitted work.
	ReadBuffer(ctx context.Context, buf *Buffer, offset, size uint64) ([]byte, error)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreateBindGroup creates a bind group.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// CreateComputePipeline compiles a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateCommandEncoder starts recording a command buffer.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit queues a finished command buffer for execution.
	Submit(cmd CommandBuffer) (SubmissionIndex, error)

	// Completed returns the highest submission index known to be finished.
	Completed() SubmissionIndex

	// Wait blocks until the submission has finished or ctx is done.
	Wait(ctx context.Context, idx SubmissionIndex) error

	// Destroy releases the device. Devices obtained from an external
	// provider leave the provider's objects alone.
	Destroy()
}

// CommandEncoder records compute work into a command buffer.
//
// Nothing recorded is implicitly ordered: a dispatch that reads what an
// earlier dispatch, clear or copy wrote must be preceded by a Barrier
// naming the buffer.
//
// Usage:
//  1. SetPipeline and SetBindGroup for each group the pipeline declares
//  2. Dispatch
//  3. Barrier before dependent work
//  4. Finish, then Device.Submit
type CommandEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches compute workgroups.
	Dispatch(x, y, z uint32)

	// Barrier makes prior writes to the buffers visible to later commands.
	Barrier(buffers ...*Buffer)

	// ClearBuffer zeroes a byte range. Offset and size must be multiples
	// of 4.
	ClearBuffer(buf *Buffer, offset, size uint64)

	// CopyBufferToBuffer copies a byte range between buffers.
	CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset uint64, size uint64)

	// Finish ends recording.
	Finish() (CommandBuffer, error)

	// Discard abandons recording.
	Discard()
}

// CommandBuffer is a finished recording, owned by the device that made it.
type CommandBuffer interface {
	Label() string
}
