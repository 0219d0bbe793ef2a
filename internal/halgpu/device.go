//go:build !nogpu

// Package halgpu implements gpucore.Device on top of the wgpu HAL.
//
// A Device either owns its HAL instance and device (Open) or borrows them
// from a host application (FromProvider). Borrowed devices only destroy the
// objects they created.
//
// Buffers rest in their full declared usage between commands. A Barrier is
// recorded as a transition from that usage back to itself, which the
// backends turn into a full memory barrier for the named buffers.
package halgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuprim/gpucore"
)

// pollInterval is how often Wait polls the queue for completion.
const pollInterval = 100 * time.Microsecond

type buffer struct {
	raw     hal.Buffer
	desc    gpucore.BufferDesc
	usage   gputypes.BufferUsage
	mapping []byte
}

type layout struct {
	raw     hal.BindGroupLayout
	label   string
	entries []gpucore.BindGroupLayoutEntry
}

type bindGroup struct {
	raw     hal.BindGroup
	ids     []gpucore.BufferID
	buffers []*buffer
}

type pipeline struct {
	raw    hal.ComputePipeline
	layout hal.PipelineLayout
	module hal.ShaderModule
	label  string
}

type pendingCmd struct {
	idx gpucore.SubmissionIndex
	cmd hal.CommandBuffer
}

// Device is a gpucore.Device backed by a HAL device and queue.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	info     gpucore.AdapterInfo
	limits   gputypes.Limits
	external bool

	nextID    uint64
	buffers   map[gpucore.BufferID]*buffer
	layouts   map[gpucore.BindGroupLayoutID]*layout
	groups    map[gpucore.BindGroupID]*bindGroup
	pipelines map[gpucore.ComputePipelineID]*pipeline

	submitted gpucore.SubmissionIndex
	pending   []pendingCmd
	orphans   []hal.Buffer
	lost      bool
	closed    bool
}

var _ gpucore.Device = (*Device)(nil)

func newDevice(dev hal.Device, queue hal.Queue, info gpucore.AdapterInfo, limits gputypes.Limits) *Device {
	return &Device{
		device:    dev,
		queue:     queue,
		info:      info,
		limits:    limits,
		buffers:   make(map[gpucore.BufferID]*buffer),
		layouts:   make(map[gpucore.BindGroupLayoutID]*layout),
		groups:    make(map[gpucore.BindGroupID]*bindGroup),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
	}
}

// Info implements gpucore.Device.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// Limits implements gpucore.Device.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// SetLogger routes halgpu and HAL logging to l.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// External reports whether the HAL device belongs to a host application.
func (d *Device) External() bool { return d.external }

func (d *Device) newIDLocked() uint64 {
	d.nextID++
	return d.nextID
}

// wrapErr prefixes a HAL error with the failed operation and marks the
// device lost when the backend says so.
func (d *Device) wrapErr(op string, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) {
		d.mu.Lock()
		d.lost = true
		d.mu.Unlock()
		slogger().Error("halgpu: device lost", "op", op, "adapter", d.info.Name)
		return fmt.Errorf("halgpu: %s: %w: %w", op, gpucore.ErrDeviceLost, err)
	}
	return fmt.Errorf("halgpu: %s: %w", op, err)
}

func toHalUsage(u gpucore.BufferUsage, hostVisible bool) gputypes.BufferUsage {
	hu := gputypes.BufferUsage(u)
	if hostVisible {
		hu |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	}
	return hu
}

func toHalBinding(t gpucore.BindingType) (gputypes.BufferBindingType, error) {
	switch t {
	case gpucore.BindingTypeUniformBuffer:
		return gputypes.BufferBindingTypeUniform, nil
	case gpucore.BindingTypeStorageBuffer:
		return gputypes.BufferBindingTypeStorage, nil
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage, nil
	default:
		return 0, fmt.Errorf("halgpu: unsupported binding type %s", t)
	}
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// CreateBuffer implements gpucore.Device. Persistent mappings require
// coherent host memory.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (*gpucore.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("halgpu: buffer %q has zero size", desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("halgpu: buffer %q size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize)
	}
	if desc.PersistentMap && !desc.HostVisible {
		return nil, fmt.Errorf("halgpu: buffer %q: %w", desc.Label, gpucore.ErrNotMappable)
	}
	usage := toHalUsage(desc.Usage, desc.HostVisible)
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, d.wrapErr("create buffer "+desc.Label, err)
	}
	b := &buffer{raw: raw, desc: *desc, usage: usage}

	if desc.PersistentMap {
		m, err := d.device.MapBuffer(raw, 0, desc.Size)
		if err != nil {
			d.device.DestroyBuffer(raw)
			return nil, d.wrapErr("map buffer "+desc.Label, err)
		}
		if !m.IsCoherent {
			_ = d.device.UnmapBuffer(raw)
			d.device.DestroyBuffer(raw)
			return nil, fmt.Errorf("halgpu: buffer %q: persistent mapping needs coherent memory", desc.Label)
		}
		b.mapping = unsafe.Slice((*byte)(m.Ptr), desc.Size)
	}

	d.mu.Lock()
	id := gpucore.BufferID(d.newIDLocked())
	d.buffers[id] = b
	d.mu.Unlock()

	return &gpucore.Buffer{
		ID:          id,
		Label:       desc.Label,
		Size:        desc.Size,
		Usage:       desc.Usage,
		HostVisible: desc.HostVisible,
		Mapped:      b.mapping,
	}, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(buf *gpucore.Buffer) {
	if buf == nil {
		return
	}
	d.mu.Lock()
	b, ok := d.buffers[buf.ID]
	delete(d.buffers, buf.ID)
	d.mu.Unlock()
	if ok {
		d.destroyBuffer(b)
	}
}

func (d *Device) destroyBuffer(b *buffer) {
	if b.mapping != nil {
		_ = d.device.UnmapBuffer(b.raw)
		b.mapping = nil
	}
	d.device.DestroyBuffer(b.raw)
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

func (d *Device) lookupBuffer(buf *gpucore.Buffer) (*buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferLocked(buf)
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(buf *gpucore.Buffer, offset uint64, data []byte) error {
	b, err := d.lookupBuffer(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("halgpu: write of %d bytes at %d overflows %s", len(data), offset, buf)
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.queue.WriteBuffer(b.raw, offset, data); err != nil {
		return d.wrapErr("write buffer "+buf.Label, err)
	}
	return nil
}

// ReadBuffer implements gpucore.Device. Device-local buffers are copied
// through a temporary staging buffer.
func (d *Device) ReadBuffer(ctx context.Context, buf *gpucore.Buffer, offset, size uint64) ([]byte, error) {
	if offset%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("halgpu: read of %s at %d+%d is not 4-byte aligned", buf, offset, size)
	}
	d.mu.Lock()
	b, err := d.bufferLocked(buf)
	last := d.submitted
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if offset+size > b.desc.Size {
		return nil, fmt.Errorf("halgpu: read of %d bytes at %d overflows %s", size, offset, buf)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if err := d.Wait(ctx, last); err != nil {
		return nil, err
	}

	switch {
	case b.mapping != nil:
		out := make([]byte, size)
		copy(out, b.mapping[offset:offset+size])
		return out, nil
	case b.desc.HostVisible:
		return d.readMapped(b.raw, offset, size, buf.Label)
	default:
		return d.readStaged(ctx, b, offset, size)
	}
}

func (d *Device) readMapped(raw hal.Buffer, offset, size uint64, label string) ([]byte, error) {
	m, err := d.device.MapBuffer(raw, offset, size)
	if err != nil {
		return nil, d.wrapErr("map buffer "+label, err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(raw); err != nil {
		return nil, d.wrapErr("unmap buffer "+label, err)
	}
	return out, nil
}

func (d *Device) readStaged(ctx context.Context, b *buffer, offset, size uint64) ([]byte, error) {
	label := b.desc.Label + " readback"
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, d.wrapErr("create staging buffer", err)
	}

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		d.device.DestroyBuffer(staging)
		return nil, d.wrapErr("create command encoder", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		d.device.DestroyBuffer(staging)
		return nil, d.wrapErr("begin encoding", err)
	}
	enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: b.raw,
		Usage:  hal.BufferUsageTransition{OldUsage: b.usage, NewUsage: gputypes.BufferUsageCopySrc},
	}})
	enc.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	enc.TransitionBuffers([]hal.BufferBarrier{
		{Buffer: b.raw, Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopySrc, NewUsage: b.usage}},
		{Buffer: staging, Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopyDst, NewUsage: gputypes.BufferUsageMapRead}},
	})
	cmd, err := enc.EndEncoding()
	if err != nil {
		d.device.DestroyBuffer(staging)
		return nil, d.wrapErr("end encoding", err)
	}

	idx, err := d.submitRaw(cmd)
	if err != nil {
		d.device.FreeCommandBuffer(cmd)
		d.device.DestroyBuffer(staging)
		return nil, err
	}
	if err := d.Wait(ctx, idx); err != nil {
		// The copy may still be in flight; the staging buffer is released
		// with the device.
		d.mu.Lock()
		d.orphans = append(d.orphans, staging)
		d.mu.Unlock()
		return nil, err
	}
	defer d.device.DestroyBuffer(staging)
	return d.readMapped(staging, 0, size, label)
}

// CreateBindGroupLayout implements gpucore.Device.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		bt, err := toHalBinding(e.Type)
		if err != nil {
			return gpucore.InvalidID, err
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bt, MinBindingSize: e.MinBindingSize},
		}
	}
	raw, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: desc.Label, Entries: entries})
	if err != nil {
		return gpucore.InvalidID, d.wrapErr("create bind group layout "+desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupLayoutID(d.newIDLocked())
	d.layouts[id] = &layout{
		raw:     raw,
		label:   desc.Label,
		entries: append([]gpucore.BindGroupLayoutEntry(nil), desc.Entries...),
	}
	return id, nil
}

// DestroyBindGroupLayout implements gpucore.Device.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	l, ok := d.layouts[id]
	delete(d.layouts, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBindGroupLayout(l.raw)
	}
}

// CreateBindGroup implements gpucore.Device.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	l, ok := d.layouts[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownID, desc.Layout)
	}
	if len(desc.Entries) != len(l.entries) {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("halgpu: bind group %q has %d entries, layout %q wants %d",
			desc.Label, len(desc.Entries), l.label, len(l.entries))
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	bufs := make([]*buffer, len(desc.Entries))
	ids := make([]gpucore.BufferID, len(desc.Entries))
	for i, e := range desc.Entries {
		b, err := d.bufferLocked(e.Buffer)
		if err != nil {
			d.mu.Unlock()
			return gpucore.InvalidID, err
		}
		size := e.Size
		if size == 0 && e.Offset < b.desc.Size {
			size = b.desc.Size - e.Offset
		}
		if size == 0 || e.Offset+size > b.desc.Size {
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("halgpu: binding %d range %d+%d overflows %s",
				e.Binding, e.Offset, e.Size, e.Buffer)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  e.Binding,
			Resource: gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: e.Offset, Size: size},
		}
		bufs[i] = b
		ids[i] = e.Buffer.ID
	}
	rawLayout := l.raw
	d.mu.Unlock()

	raw, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  rawLayout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, d.wrapErr("create bind group "+desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupID(d.newIDLocked())
	d.groups[id] = &bindGroup{raw: raw, ids: ids, buffers: bufs}
	return id, nil
}

// DestroyBindGroup implements gpucore.Device.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	g, ok := d.groups[id]
	delete(d.groups, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBindGroup(g.raw)
	}
}

// CreateComputePipeline implements gpucore.Device. The WGSL source is
// compiled by the backend.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	layouts := make([]hal.BindGroupLayout, len(desc.Layouts))
	for i, id := range desc.Layouts {
		l, ok := d.layouts[id]
		if !ok {
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownID, id)
		}
		layouts[i] = l.raw
	}
	d.mu.Unlock()

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, d.wrapErr("compile "+desc.Label, err)
	}
	pl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		d.device.DestroyShaderModule(module)
		return gpucore.InvalidID, d.wrapErr("create pipeline layout "+desc.Label, err)
	}
	raw, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  pl,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.device.DestroyPipelineLayout(pl)
		d.device.DestroyShaderModule(module)
		return gpucore.InvalidID, d.wrapErr("create compute pipeline "+desc.Label, err)
	}
	slogger().Debug("halgpu: pipeline created", "label", desc.Label, "kernel", desc.Kernel, "workgroup", desc.Workgroup)

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ComputePipelineID(d.newIDLocked())
	d.pipelines[id] = &pipeline{raw: raw, layout: pl, module: module, label: desc.Label}
	return id, nil
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines[id]
	delete(d.pipelines, id)
	d.mu.Unlock()
	if ok {
		d.destroyPipeline(p)
	}
}

func (d *Device) destroyPipeline(p *pipeline) {
	d.device.DestroyComputePipeline(p.raw)
	d.device.DestroyPipelineLayout(p.layout)
	d.device.DestroyShaderModule(p.module)
}

// CreateCommandEncoder implements gpucore.Device.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, d.wrapErr("create command encoder", err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, d.wrapErr("begin encoding "+label, err)
	}
	return &encoder{dev: d, raw: raw, label: label, touched: make(map[gpucore.BufferID]*buffer)}, nil
}

// Submit implements gpucore.Device.
func (d *Device) Submit(cmd gpucore.CommandBuffer) (gpucore.SubmissionIndex, error) {
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb.dev != d {
		return 0, fmt.Errorf("halgpu: foreign command buffer %T", cmd)
	}
	if cb.submitted {
		return 0, fmt.Errorf("halgpu: command buffer %q submitted twice", cb.label)
	}
	cb.submitted = true
	idx, err := d.submitRaw(cb.raw)
	if err != nil {
		d.device.FreeCommandBuffer(cb.raw)
		return 0, err
	}
	return idx, nil
}

func (d *Device) submitRaw(cmd hal.CommandBuffer) (gpucore.SubmissionIndex, error) {
	d.mu.Lock()
	lost := d.lost
	d.mu.Unlock()
	if lost {
		return 0, fmt.Errorf("halgpu: submit: %w", gpucore.ErrDeviceLost)
	}

	n, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return 0, d.wrapErr("submit", err)
	}
	idx := gpucore.SubmissionIndex(n)

	d.mu.Lock()
	defer d.mu.Unlock()
	if idx > d.submitted {
		d.submitted = idx
	}
	d.pending = append(d.pending, pendingCmd{idx: idx, cmd: cmd})
	return idx, nil
}

// Completed implements gpucore.Device. Command buffers of finished
// submissions are freed here.
func (d *Device) Completed() gpucore.SubmissionIndex {
	done := gpucore.SubmissionIndex(d.queue.PollCompleted())

	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.idx <= done {
			d.device.FreeCommandBuffer(p.cmd)
			continue
		}
		kept = append(kept, p)
	}
	clear(d.pending[len(kept):])
	d.pending = kept
	return done
}

// Wait implements gpucore.Device.
func (d *Device) Wait(ctx context.Context, idx gpucore.SubmissionIndex) error {
	if d.Completed() >= idx {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if d.Completed() >= idx {
				return nil
			}
		}
	}
}

// Destroy implements gpucore.Device. It waits for the device to go idle,
// then releases every object the Device created. Owned HAL devices and
// instances are destroyed too.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.device.WaitIdle(); err != nil {
		slogger().Warn("halgpu: wait idle failed", "err", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending {
		d.device.FreeCommandBuffer(p.cmd)
	}
	d.pending = nil
	for _, b := range d.orphans {
		d.device.DestroyBuffer(b)
	}
	d.orphans = nil
	for id, g := range d.groups {
		d.device.DestroyBindGroup(g.raw)
		delete(d.groups, id)
	}
	for id, p := range d.pipelines {
		d.destroyPipeline(p)
		delete(d.pipelines, id)
	}
	for id, l := range d.layouts {
		d.device.DestroyBindGroupLayout(l.raw)
		delete(d.layouts, id)
	}
	for id, b := range d.buffers {
		d.destroyBuffer(b)
		delete(d.buffers, id)
	}

	if d.external {
		slogger().Info("halgpu: released shared device resources", "adapter", d.info.Name)
		return
	}
	d.device.Destroy()
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	slogger().Info("halgpu: device destroyed", "adapter", d.info.Name)
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}
