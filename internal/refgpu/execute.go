package refgpu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/gpuprim/gpucore"
)

// Invocation is the view a kernel mirror gets of one dispatch.
type Invocation struct {
	// Groups is the dispatch size in workgroups.
	Groups [3]uint32

	params   []byte
	bindings map[uint32][]byte
}

// Param returns the i-th u32 of the parameter block.
func (inv *Invocation) Param(i int) uint32 {
	return binary.LittleEndian.Uint32(inv.params[4*i:])
}

// Binding returns the bytes bound at @group(0) @binding(n).
func (inv *Invocation) Binding(n uint32) []byte {
	b, ok := inv.bindings[n]
	if !ok {
		panic(fmt.Sprintf("binding %d not bound", n))
	}
	return b
}

// Kernel is the Go mirror of a compute kernel. It runs one workgroup.
// Phases separated by workgroupBarrier in WGSL run as separate loops over
// the local invocations.
type Kernel func(inv *Invocation, wg [3]uint32)

func (d *Device) executeLocked(cb *commandBuffer) error {
	for i := range cb.cmds {
		c := &cb.cmds[i]
		var err error
		switch c.kind {
		case cmdDispatch:
			err = d.dispatchLocked(c)
		case cmdBarrier:
			d.stats.Barriers++
		case cmdClear:
			err = d.clearLocked(c)
		case cmdCopy:
			err = d.copyLocked(c)
		}
		if err != nil {
			return fmt.Errorf("refgpu: %q command %d (%s): %w", cb.label, i, c.kind, err)
		}
	}
	return nil
}

func (d *Device) clearLocked(c *command) error {
	b, err := d.bufferLocked(c.dst)
	if err != nil {
		return err
	}
	if c.dstOff+c.size > uint64(len(b.data)) {
		return fmt.Errorf("clear range %d+%d overflows %s", c.dstOff, c.size, c.dst)
	}
	clear(b.data[c.dstOff : c.dstOff+c.size])
	d.stats.Clears++
	return nil
}

func (d *Device) copyLocked(c *command) error {
	src, err := d.bufferLocked(c.src)
	if err != nil {
		return err
	}
	dst, err := d.bufferLocked(c.dst)
	if err != nil {
		return err
	}
	if c.srcOff+c.size > uint64(len(src.data)) || c.dstOff+c.size > uint64(len(dst.data)) {
		return fmt.Errorf("copy %s+%d -> %s+%d of %d bytes out of range", c.src, c.srcOff, c.dst, c.dstOff, c.size)
	}
	copy(dst.data[c.dstOff:c.dstOff+c.size], src.data[c.srcOff:c.srcOff+c.size])
	d.stats.Copies++
	return nil
}

func (d *Device) dispatchLocked(c *command) error {
	p, ok := d.pipelines[c.pipeline]
	if !ok {
		return fmt.Errorf("%w: pipeline %d", gpucore.ErrUnknownID, c.pipeline)
	}
	inv := &Invocation{Groups: c.count, bindings: make(map[uint32][]byte)}
	for index, layoutID := range p.layouts {
		gid, ok := c.groups[uint32(index)]
		if !ok {
			return fmt.Errorf("kernel %s: bind group %d not set", p.kernel, index)
		}
		g, ok := d.groups[gid]
		if !ok {
			return fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownID, gid)
		}
		if g.layout != layoutID {
			return fmt.Errorf("kernel %s: bind group %d has layout %d, pipeline expects %d",
				p.kernel, index, g.layout, layoutID)
		}
		for _, e := range g.entries {
			b, err := d.bufferLocked(e.Buffer)
			if err != nil {
				return err
			}
			view := b.data[e.Offset : e.Offset+e.Size]
			if index == 0 {
				inv.bindings[e.Binding] = view
			} else if e.Binding == 0 {
				inv.params = view
			}
		}
	}

	if err := d.runKernel(p, inv); err != nil {
		return fmt.Errorf("kernel %s: %w", p.kernel, err)
	}
	d.stats.Dispatches++
	d.stats.Workgroups += uint64(c.count[0]) * uint64(c.count[1]) * uint64(c.count[2])
	return nil
}

func (d *Device) runKernel(p *pipeline, inv *Invocation) error {
	g := inv.Groups
	if d.pool == nil || p.serial || g[0]*g[1]*g[2] < 2 {
		return runGroups(p.fn, inv, 0, g[0]*g[1]*g[2])
	}
	var (
		mu       sync.Mutex
		firstErr error
	)
	d.pool.Range(g[0]*g[1]*g[2], func(lo, hi uint32) {
		if err := runGroups(p.fn, inv, lo, hi); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	return firstErr
}

// runGroups runs the workgroups with linear indices [lo, hi), x fastest.
func runGroups(fn Kernel, inv *Invocation, lo, hi uint32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrKernelFault, r)
		}
	}()
	nx, ny := inv.Groups[0], inv.Groups[1]
	for i := lo; i < hi; i++ {
		fn(inv, [3]uint32{i % nx, i / nx % ny, i / (nx * ny)})
	}
	return nil
}
