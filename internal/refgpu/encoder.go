package refgpu

import (
	"fmt"

	"github.com/gogpu/gpuprim/gpucore"
)

type commandKind uint8

const (
	cmdDispatch commandKind = iota
	cmdBarrier
	cmdClear
	cmdCopy
)

func (k commandKind) String() string {
	switch k {
	case cmdDispatch:
		return "dispatch"
	case cmdBarrier:
		return "barrier"
	case cmdClear:
		return "clear"
	case cmdCopy:
		return "copy"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

type command struct {
	kind commandKind

	// dispatch
	pipeline gpucore.ComputePipelineID
	groups   map[uint32]gpucore.BindGroupID
	count    [3]uint32

	// barrier: nil means every buffer
	barrier []gpucore.BufferID

	// clear and copy
	src, dst       *gpucore.Buffer
	srcOff, dstOff uint64
	size           uint64
}

type encoder struct {
	device   *Device
	label    string
	pipeline gpucore.ComputePipelineID
	groups   map[uint32]gpucore.BindGroupID
	cmds     []command
	done     bool
	err      error
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("refgpu: encoder %q: "+format, append([]any{e.label}, args...)...)
	}
}

func (e *encoder) SetPipeline(p gpucore.ComputePipelineID) {
	e.pipeline = p
}

func (e *encoder) SetBindGroup(index uint32, g gpucore.BindGroupID) {
	if e.groups == nil {
		e.groups = make(map[uint32]gpucore.BindGroupID)
	}
	e.groups[index] = g
}

func (e *encoder) Dispatch(x, y, z uint32) {
	if e.done {
		e.fail("dispatch after finish")
		return
	}
	if e.pipeline == gpucore.InvalidID {
		e.fail("dispatch without pipeline")
		return
	}
	groups := make(map[uint32]gpucore.BindGroupID, len(e.groups))
	for k, v := range e.groups {
		groups[k] = v
	}
	e.cmds = append(e.cmds, command{
		kind:     cmdDispatch,
		pipeline: e.pipeline,
		groups:   groups,
		count:    [3]uint32{x, y, z},
	})
}

func (e *encoder) Barrier(buffers ...*gpucore.Buffer) {
	var ids []gpucore.BufferID
	if len(buffers) > 0 {
		ids = make([]gpucore.BufferID, 0, len(buffers))
		for _, b := range buffers {
			ids = append(ids, b.ID)
		}
	}
	e.cmds = append(e.cmds, command{kind: cmdBarrier, barrier: ids})
}

func (e *encoder) ClearBuffer(buf *gpucore.Buffer, offset, size uint64) {
	if offset%4 != 0 || size%4 != 0 {
		e.fail("clear of %s at %d+%d is not 4-byte aligned", buf, offset, size)
		return
	}
	e.cmds = append(e.cmds, command{kind: cmdClear, dst: buf, dstOff: offset, size: size})
}

func (e *encoder) CopyBufferToBuffer(src *gpucore.Buffer, srcOffset uint64, dst *gpucore.Buffer, dstOffset uint64, size uint64) {
	if src.ID == dst.ID && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		e.fail("overlapping copy within %s", src)
		return
	}
	e.cmds = append(e.cmds, command{
		kind: cmdCopy, src: src, srcOff: srcOffset, dst: dst, dstOff: dstOffset, size: size,
	})
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.done {
		return nil, gpucore.ErrEncoderFinished
	}
	e.done = true
	if e.err != nil {
		return nil, e.err
	}
	return &commandBuffer{device: e.device, label: e.label, cmds: e.cmds}, nil
}

func (e *encoder) Discard() {
	e.done = true
	e.cmds = nil
}

type commandBuffer struct {
	device    *Device
	label     string
	cmds      []command
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }
