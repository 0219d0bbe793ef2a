//go:build !nogpu

package halgpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuprim/gpucore"
)

// maxBindGroups bounds the group indices an encoder tracks.
const maxBindGroups = 4

// encoder records into a HAL command encoder. Dispatches share one compute
// pass until a barrier, clear or copy ends it; the pipeline and bind groups
// are re-applied when the next pass begins.
type encoder struct {
	dev   *Device
	raw   hal.CommandEncoder
	label string

	pass     hal.ComputePassEncoder
	pipeline *pipeline
	groups   [maxBindGroups]*bindGroup

	// touched holds every buffer the recording has bound, cleared or
	// copied; an empty Barrier covers all of them.
	touched map[gpucore.BufferID]*buffer

	done bool
	err  error
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("halgpu: encoder %q: "+format, append([]any{e.label}, args...)...)
	}
}

func (e *encoder) beginPass() hal.ComputePassEncoder {
	if e.pass != nil {
		return e.pass
	}
	e.pass = e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: e.label})
	if e.pipeline != nil {
		e.pass.SetPipeline(e.pipeline.raw)
	}
	for i, g := range e.groups {
		if g != nil {
			e.pass.SetBindGroup(uint32(i), g.raw, nil)
		}
	}
	return e.pass
}

func (e *encoder) endPass() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
}

func (e *encoder) touch(id gpucore.BufferID, b *buffer) {
	e.touched[id] = b
}

func (e *encoder) SetPipeline(id gpucore.ComputePipelineID) {
	e.dev.mu.Lock()
	p, ok := e.dev.pipelines[id]
	e.dev.mu.Unlock()
	if !ok {
		e.fail("%w: compute pipeline %d", gpucore.ErrUnknownID, id)
		return
	}
	e.pipeline = p
	if e.pass != nil {
		e.pass.SetPipeline(p.raw)
	}
}

func (e *encoder) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	if index >= maxBindGroups {
		e.fail("bind group index %d out of range", index)
		return
	}
	e.dev.mu.Lock()
	g, ok := e.dev.groups[id]
	e.dev.mu.Unlock()
	if !ok {
		e.fail("%w: bind group %d", gpucore.ErrUnknownID, id)
		return
	}
	e.groups[index] = g
	for i, b := range g.buffers {
		e.touch(g.ids[i], b)
	}
	if e.pass != nil {
		e.pass.SetBindGroup(index, g.raw, nil)
	}
}

func (e *encoder) Dispatch(x, y, z uint32) {
	if e.done {
		e.fail("dispatch after finish")
		return
	}
	if e.pipeline == nil {
		e.fail("dispatch without pipeline")
		return
	}
	if x == 0 || y == 0 || z == 0 {
		return
	}
	e.beginPass().Dispatch(x, y, z)
}

func (e *encoder) Barrier(buffers ...*gpucore.Buffer) {
	if e.done {
		e.fail("barrier after finish")
		return
	}
	e.endPass()

	var barriers []hal.BufferBarrier
	add := func(b *buffer) {
		barriers = append(barriers, hal.BufferBarrier{
			Buffer: b.raw,
			Usage:  hal.BufferUsageTransition{OldUsage: b.usage, NewUsage: b.usage},
		})
	}
	if len(buffers) == 0 {
		for _, b := range e.touched {
			add(b)
		}
	} else {
		for _, buf := range buffers {
			b, err := e.dev.lookupBuffer(buf)
			if err != nil {
				e.fail("barrier: %w", err)
				return
			}
			add(b)
		}
	}
	if len(barriers) > 0 {
		e.raw.TransitionBuffers(barriers)
	}
}

func (e *encoder) ClearBuffer(buf *gpucore.Buffer, offset, size uint64) {
	if e.done {
		e.fail("clear after finish")
		return
	}
	if offset%4 != 0 || size%4 != 0 {
		e.fail("clear of %s at %d+%d is not 4-byte aligned", buf, offset, size)
		return
	}
	b, err := e.dev.lookupBuffer(buf)
	if err != nil {
		e.fail("clear: %w", err)
		return
	}
	if offset+size > b.desc.Size {
		e.fail("clear of %d bytes at %d overflows %s", size, offset, buf)
		return
	}
	e.endPass()
	e.touch(buf.ID, b)
	if size > 0 {
		e.raw.ClearBuffer(b.raw, offset, size)
	}
}

func (e *encoder) CopyBufferToBuffer(src *gpucore.Buffer, srcOffset uint64, dst *gpucore.Buffer, dstOffset uint64, size uint64) {
	if e.done {
		e.fail("copy after finish")
		return
	}
	if src.ID == dst.ID && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		e.fail("overlapping copy within %s", src)
		return
	}
	sb, err := e.dev.lookupBuffer(src)
	if err != nil {
		e.fail("copy: %w", err)
		return
	}
	db, err := e.dev.lookupBuffer(dst)
	if err != nil {
		e.fail("copy: %w", err)
		return
	}
	if srcOffset+size > sb.desc.Size || dstOffset+size > db.desc.Size {
		e.fail("copy of %d bytes from %s+%d to %s+%d out of range", size, src, srcOffset, dst, dstOffset)
		return
	}
	e.endPass()
	e.touch(src.ID, sb)
	e.touch(dst.ID, db)
	if size > 0 {
		e.raw.CopyBufferToBuffer(sb.raw, db.raw, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	}
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.done {
		return nil, gpucore.ErrEncoderFinished
	}
	e.done = true
	e.endPass()
	if e.err != nil {
		e.raw.DiscardEncoding()
		return nil, e.err
	}
	raw, err := e.raw.EndEncoding()
	if err != nil {
		return nil, e.dev.wrapErr("end encoding "+e.label, err)
	}
	return &commandBuffer{dev: e.dev, raw: raw, label: e.label}, nil
}

func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	e.endPass()
	e.raw.DiscardEncoding()
}

type commandBuffer struct {
	dev       *Device
	raw       hal.CommandBuffer
	label     string
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }
