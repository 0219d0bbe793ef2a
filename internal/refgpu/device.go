// Package refgpu is a CPU reference implementation of gpucore.Device.
//
// Every kernel the gpuprim primitives dispatch has a Go mirror here that
// runs one workgroup at a time with the same indexing, the same workgroup
// memory phases and the same atomics as the WGSL source. Recorded command
// buffers execute synchronously on Submit. By default workgroups run one
// after another; WithWorkers spreads the workgroups of a dispatch over a
// worker pool, except for kernels whose atomics the mirrors serialize.
//
// The device also checks ordering: a command that touches a byte range
// written by an earlier command of the same submission, with no Barrier
// naming that buffer in between, fails the submission with
// ErrMissingBarrier. Kernel faults (out-of-range accesses in a mirror)
// fail it with ErrKernelFault.
//
// The device exists for tests and host-side validation. It is not a
// fallback for missing GPUs.
package refgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/internal/parallel"
)

// Errors reported by the reference device.
var (
	// ErrMissingBarrier reports a read-after-write or write-after-write
	// between commands with no intervening barrier.
	ErrMissingBarrier = gpucore.ErrMissingBarrier

	// ErrKernelFault reports a kernel mirror that accessed memory outside
	// its bindings.
	ErrKernelFault = errors.New("refgpu: kernel fault")

	// ErrKernelNotFound is returned for pipelines whose kernel has no Go
	// mirror.
	ErrKernelNotFound = fmt.Errorf("refgpu: no reference kernel: %w", gpucore.ErrKernelNotFound)
)

// Stats counts executed work.
type Stats struct {
	Submissions uint64
	Dispatches  uint64
	Workgroups  uint64
	Barriers    uint64
	Clears      uint64
	Copies      uint64
}

type buffer struct {
	desc gpucore.BufferDesc
	data []byte
}

type bindGroup struct {
	layout  gpucore.BindGroupLayoutID
	entries []gpucore.BindGroupEntry
}

type pipeline struct {
	kernel  string
	fn      Kernel
	serial  bool
	layouts []gpucore.BindGroupLayoutID
}

// Device is the reference device.
type Device struct {
	mu        sync.Mutex
	nextID    uint64
	buffers   map[gpucore.BufferID]*buffer
	layouts   map[gpucore.BindGroupLayoutID]*gpucore.BindGroupLayoutDesc
	groups    map[gpucore.BindGroupID]*bindGroup
	pipelines map[gpucore.ComputePipelineID]*pipeline
	submitted gpucore.SubmissionIndex
	limits    gputypes.Limits
	hazards   bool
	stats     Stats
	pool      *parallel.WorkerPool
}

// Option configures a Device.
type Option func(*Device)

// WithoutHazardCheck disables barrier validation.
func WithoutHazardCheck() Option {
	return func(d *Device) { d.hazards = false }
}

// WithWorkers runs the workgroups of a dispatch on n goroutines. Values
// below 2 keep execution sequential.
func WithWorkers(n int) Option {
	return func(d *Device) {
		if d.pool != nil {
			d.pool.Close()
			d.pool = nil
		}
		if n > 1 {
			d.pool = parallel.NewWorkerPool(n)
		}
	}
}

// WithLimits overrides the reported device limits.
func WithLimits(l gputypes.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// New creates a reference device.
func New(opts ...Option) *Device {
	d := &Device{
		buffers:   make(map[gpucore.BufferID]*buffer),
		layouts:   make(map[gpucore.BindGroupLayoutID]*gpucore.BindGroupLayoutDesc),
		groups:    make(map[gpucore.BindGroupID]*bindGroup),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		limits:    gputypes.DefaultLimits(),
		hazards:   true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ gpucore.Device = (*Device)(nil)

// Info implements gpucore.Device.
func (d *Device) Info() gpucore.AdapterInfo {
	return gpucore.AdapterInfo{
		Name:    "gpuprim reference device",
		Backend: "reference",
		Type:    gpucontext.AdapterTypeSoftware,
	}
}

// Limits implements gpucore.Device.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// Stats returns a snapshot of executed work.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// LiveBindGroups returns the number of bind groups not yet destroyed.
func (d *Device) LiveBindGroups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups)
}

func (d *Device) newIDLocked() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (*gpucore.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("refgpu: buffer %q has zero size", desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("refgpu: buffer %q size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b := &buffer{desc: *desc, data: make([]byte, desc.Size)}
	id := gpucore.BufferID(d.newIDLocked())
	d.buffers[id] = b

	out := &gpucore.Buffer{
		ID:          id,
		Label:       desc.Label,
		Size:        desc.Size,
		Usage:       desc.Usage,
		HostVisible: desc.HostVisible,
	}
	if desc.HostVisible && desc.PersistentMap {
		out.Mapped = b.data
	}
	return out, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(buf *gpucore.Buffer) {
	if buf == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, buf.ID)
}

func (d *Device) bufferLocked(buf *gpucore.Buffer) (*buffer, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil buffer", gpucore.ErrUnknownID)
	}
	b, ok := d.buffers[buf.ID]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %s", gpucore.ErrUnknownID, buf)
	}
	return b, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(buf *gpucore.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.bufferLocked(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("refgpu: write of %d bytes at %d overflows %s", len(data), offset, buf)
	}
	copy(b.data[offset:], data)
	return nil
}

// ReadBuffer implements gpucore.Device. Work executes on Submit, so the
// data is always current.
func (d *Device) ReadBuffer(_ context.Context, buf *gpucore.Buffer, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.bufferLocked(buf)
	if err != nil {
		return nil, err
	}
	if offset+size > uint64(len(b.data)) {
		return nil, fmt.Errorf("refgpu: read of %d bytes at %d overflows %s", size, offset, buf)
	}
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out, nil
}

// CreateBindGroupLayout implements gpucore.Device.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *desc
	cp.Entries = append([]gpucore.BindGroupLayoutEntry(nil), desc.Entries...)
	id := gpucore.BindGroupLayoutID(d.newIDLocked())
	d.layouts[id] = &cp
	return id, nil
}

// DestroyBindGroupLayout implements gpucore.Device.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, id)
}

// CreateBindGroup implements gpucore.Device. Entries are checked against
// the layout.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	layout, ok := d.layouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownID, desc.Layout)
	}
	if len(desc.Entries) != len(layout.Entries) {
		return gpucore.InvalidID, fmt.Errorf("refgpu: bind group %q has %d entries, layout %q wants %d",
			desc.Label, len(desc.Entries), layout.Label, len(layout.Entries))
	}
	entries := make([]gpucore.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		b, err := d.bufferLocked(e.Buffer)
		if err != nil {
			return gpucore.InvalidID, err
		}
		if e.Size == 0 && e.Offset < b.desc.Size {
			e.Size = b.desc.Size - e.Offset
		}
		entries[i] = e
		if e.Size == 0 || e.Offset+e.Size > b.desc.Size {
			return gpucore.InvalidID, fmt.Errorf("refgpu: binding %d range %d+%d overflows %s",
				e.Binding, e.Offset, e.Size, e.Buffer)
		}
		if !layoutHas(layout, e.Binding) {
			return gpucore.InvalidID, fmt.Errorf("refgpu: binding %d not in layout %q", e.Binding, layout.Label)
		}
	}
	id := gpucore.BindGroupID(d.newIDLocked())
	d.groups[id] = &bindGroup{
		layout:  desc.Layout,
		entries: entries,
	}
	return id, nil
}

func layoutHas(layout *gpucore.BindGroupLayoutDesc, binding uint32) bool {
	for _, le := range layout.Entries {
		if le.Binding == binding {
			return true
		}
	}
	return false
}

// DestroyBindGroup implements gpucore.Device.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, id)
}

// CreateComputePipeline implements gpucore.Device. The WGSL source is not
// compiled; the pipeline runs the Go mirror registered for desc.Kernel.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	k, ok := kernels[desc.Kernel]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrKernelNotFound, desc.Kernel)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range desc.Layouts {
		if _, ok := d.layouts[l]; !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownID, l)
		}
	}
	id := gpucore.ComputePipelineID(d.newIDLocked())
	d.pipelines[id] = &pipeline{
		kernel:  desc.Kernel,
		fn:      k.fn,
		serial:  k.serial,
		layouts: append([]gpucore.BindGroupLayoutID(nil), desc.Layouts...),
	}
	return id, nil
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// CreateCommandEncoder implements gpucore.Device.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	return &encoder{device: d, label: label}, nil
}

// Submit implements gpucore.Device. The command buffer runs to completion
// before Submit returns.
func (d *Device) Submit(cmd gpucore.CommandBuffer) (gpucore.SubmissionIndex, error) {
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb.device != d {
		return 0, fmt.Errorf("refgpu: foreign command buffer %T", cmd)
	}
	if cb.submitted {
		return 0, fmt.Errorf("refgpu: command buffer %q submitted twice", cb.label)
	}
	cb.submitted = true

	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted++
	d.stats.Submissions++
	if d.hazards {
		if err := checkHazards(d, cb); err != nil {
			return d.submitted, err
		}
	}
	if err := d.executeLocked(cb); err != nil {
		return d.submitted, err
	}
	return d.submitted, nil
}

// Completed implements gpucore.Device.
func (d *Device) Completed() gpucore.SubmissionIndex {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// Wait implements gpucore.Device. Submissions finish inside Submit.
func (d *Device) Wait(ctx context.Context, idx gpucore.SubmissionIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx > d.Completed() {
		return fmt.Errorf("refgpu: wait for unsubmitted index %d", idx)
	}
	return nil
}

// Destroy implements gpucore.Device.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.buffers)
	clear(d.layouts)
	clear(d.groups)
	clear(d.pipelines)
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
}
