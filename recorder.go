package gpuprim

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/resource"
)

// paramsSlabSlots is the number of parameter blocks one uniform slab
// holds before the recorder allocates the next.
const paramsSlabSlots = 64

// Recorder pairs a command encoder with the container that keeps the
// recorded work's resources alive.
//
// Errors are sticky: after the first failure every later call records
// nothing and Err returns that failure; Context.Submit reports it.
type Recorder struct {
	ctx       *Context
	enc       gpucore.CommandEncoder
	container *resource.Container
	label     string

	// checkpoint is the label of the last recorded command. check()
	// reports it when a later device call fails.
	checkpoint string
	dispatches int
	err        error

	slab     *gpucore.Buffer
	slabUsed uint32
}

// Err returns the first error hit while recording.
func (r *Recorder) Err() error { return r.err }

// Container returns the container the recorder pushes resources into.
func (r *Recorder) Container() *resource.Container { return r.container }

// Context returns the Context the recorder belongs to.
func (r *Recorder) Context() *Context { return r.ctx }

// Dispatches returns the number of dispatches recorded so far.
func (r *Recorder) Dispatches() int { return r.dispatches }

func (r *Recorder) fail(op string, err error) {
	if r.err == nil {
		r.err = check(r.ctx.log(), op, r.checkpoint, err)
	}
}

// Keep pushes caller resources into the recorder's container so they
// outlive the submission.
func (r *Recorder) Keep(refs ...resource.Releaser) {
	r.container.Push(refs...)
}

// Barrier makes earlier writes to bufs visible to later commands. With no
// buffers it orders everything.
func (r *Recorder) Barrier(bufs ...*gpucore.Buffer) {
	if r.err != nil {
		return
	}
	r.enc.Barrier(bufs...)
}

// ClearBuffer zeroes a byte range.
func (r *Recorder) ClearBuffer(buf *gpucore.Buffer, offset, size uint64) {
	precondition(offset%4 == 0 && size%4 == 0, "clear of %s at %d+%d is not 4-byte aligned", buf, offset, size)
	precondition(offset+size <= buf.Size, "clear of %d bytes at %d overflows %s", size, offset, buf)
	if r.err != nil {
		return
	}
	r.enc.ClearBuffer(buf, offset, size)
	r.checkpoint = "clear " + buf.Label
}

// CopyBuffer copies size bytes from src to dst.
func (r *Recorder) CopyBuffer(src *gpucore.Buffer, srcOffset uint64, dst *gpucore.Buffer, dstOffset, size uint64) {
	precondition(srcOffset+size <= src.Size, "copy of %d bytes at %d overflows %s", size, srcOffset, src)
	precondition(dstOffset+size <= dst.Size, "copy of %d bytes at %d overflows %s", size, dstOffset, dst)
	if r.err != nil {
		return
	}
	r.enc.CopyBufferToBuffer(src, srcOffset, dst, dstOffset, size)
	r.checkpoint = "copy " + src.Label + " -> " + dst.Label
}

// dispatch records one kernel dispatch. params is a fixed-size struct
// mirroring the kernel's parameter block; buffers are bound at
// @group(0) bindings 0, 1, 2... in order.
func (r *Recorder) dispatch(name string, groups [3]uint32, params any, buffers ...*gpucore.Buffer) {
	if r.err != nil {
		return
	}
	maxGroups := r.ctx.device.Limits().MaxComputeWorkgroupsPerDimension
	for _, g := range groups {
		precondition(g > 0 && (maxGroups == 0 || g <= maxGroups),
			"%s: dispatch %v exceeds %d workgroups per dimension", name, groups, maxGroups)
	}

	k, err := r.ctx.kernel(name)
	if err != nil {
		r.fail("kernel "+name, err)
		return
	}
	if len(buffers) != len(k.layout.Bindings) {
		r.fail("dispatch "+name, fmt.Errorf("%w: %d buffers for %d bindings",
			ErrLayoutMismatch, len(buffers), len(k.layout.Bindings)))
		return
	}

	block, err := binary.Append(make([]byte, 0, paramsBlockSize), binary.LittleEndian, params)
	if err != nil {
		r.fail("encode params "+name, err)
		return
	}
	if uint32(len(block)) != k.layout.ParamsSize {
		r.fail("dispatch "+name, fmt.Errorf("%w: %d-byte params for a %d-byte block",
			ErrLayoutMismatch, len(block), k.layout.ParamsSize))
		return
	}
	slab, offset, err := r.paramsSlot()
	if err != nil {
		r.fail("allocate params "+name, err)
		return
	}
	if err := r.ctx.device.WriteBuffer(slab, offset, block); err != nil {
		r.fail("write params "+name, err)
		return
	}

	entries := make([]gpucore.BindGroupEntry, len(buffers))
	for i, b := range buffers {
		entries[i] = gpucore.BindGroupEntry{Binding: k.layout.Bindings[i].Binding, Buffer: b}
	}
	bufferGroup, err := r.ctx.pool.Acquire(r.ctx.label(name+" buffers"), k.bufferLayout, entries)
	if err != nil {
		r.fail("bind group "+name, err)
		return
	}
	r.container.Push(bufferGroup)
	paramsGroup, err := r.ctx.pool.Acquire(r.ctx.label(name+" params"), k.paramsLayout, []gpucore.BindGroupEntry{{
		Binding: 0,
		Buffer:  slab,
		Offset:  offset,
		Size:    uint64(len(block)),
	}})
	if err != nil {
		r.fail("bind group "+name, err)
		return
	}
	r.container.Push(paramsGroup)

	r.enc.SetPipeline(k.pipeline)
	r.enc.SetBindGroup(0, bufferGroup.Get())
	r.enc.SetBindGroup(1, paramsGroup.Get())
	r.enc.Dispatch(groups[0], groups[1], groups[2])
	r.dispatches++
	r.checkpoint = name

	r.ctx.log().Debug("gpuprim: dispatch",
		"kernel", name,
		"groups", groups,
		"recorder", r.label)
}

// paramsSlot returns a uniform slab and the offset of an unused parameter
// block in it. Slabs live until the recorder's container is released.
func (r *Recorder) paramsSlot() (*gpucore.Buffer, uint64, error) {
	align := uint64(r.ctx.device.Limits().MinUniformBufferOffsetAlignment)
	if align < paramsBlockSize {
		align = paramsBlockSize
	}
	if r.slab == nil || r.slabUsed == paramsSlabSlots {
		scoped, err := r.ctx.AllocDeviceOnly(r.label+" params",
			gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst, align*paramsSlabSlots)
		if err != nil {
			return nil, 0, err
		}
		r.slab = scoped.Get()
		r.slabUsed = 0
		r.container.Push(scoped.Share())
		scoped.Release()
	}
	offset := align * uint64(r.slabUsed)
	r.slabUsed++
	return r.slab, offset, nil
}
