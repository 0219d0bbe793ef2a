package refgpu

import (
	"fmt"

	"github.com/gogpu/gpuprim/gpucore"
)

// span is a byte range of one buffer touched by a command.
type span struct {
	buffer gpucore.BufferID
	lo, hi uint64
	write  bool
}

func (s span) overlaps(o span) bool {
	return s.buffer == o.buffer && s.lo < o.hi && o.lo < s.hi
}

// pendingWrite is a write not yet made visible by a barrier.
type pendingWrite struct {
	span
	cmd int
}

// checkHazards walks the command buffer in order and fails on the first
// command touching bytes an earlier command wrote with no barrier on that
// buffer in between. Write-after-read is not reported.
func checkHazards(d *Device, cb *commandBuffer) error {
	var pending []pendingWrite
	for i, c := range cb.cmds {
		if c.kind == cmdBarrier {
			pending = dropBarriered(pending, c.barrier)
			continue
		}
		spans, err := d.spansLocked(&c)
		if err != nil {
			return fmt.Errorf("refgpu: %q command %d (%s): %w", cb.label, i, c.kind, err)
		}
		for _, s := range spans {
			for _, w := range pending {
				if s.overlaps(w.span) {
					kind := "read"
					if s.write {
						kind = "write"
					}
					return fmt.Errorf("%w: %q command %d (%s) %ss buffer %d [%d,%d) written by command %d (%s)",
						ErrMissingBarrier, cb.label, i, c.kind, kind, s.buffer, s.lo, s.hi, w.cmd, cb.cmds[w.cmd].kind)
				}
			}
		}
		for _, s := range spans {
			if s.write {
				pending = append(pending, pendingWrite{span: s, cmd: i})
			}
		}
	}
	return nil
}

func dropBarriered(pending []pendingWrite, buffers []gpucore.BufferID) []pendingWrite {
	if buffers == nil {
		return pending[:0]
	}
	kept := pending[:0]
	for _, w := range pending {
		covered := false
		for _, id := range buffers {
			if w.buffer == id {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, w)
		}
	}
	return kept
}

// spansLocked lists the byte ranges a command reads and writes. Storage
// bindings of a dispatch count as their whole bound range; uniform
// parameter blocks are written by the host and are not tracked.
func (d *Device) spansLocked(c *command) ([]span, error) {
	switch c.kind {
	case cmdClear:
		return []span{{buffer: c.dst.ID, lo: c.dstOff, hi: c.dstOff + c.size, write: true}}, nil
	case cmdCopy:
		return []span{
			{buffer: c.src.ID, lo: c.srcOff, hi: c.srcOff + c.size},
			{buffer: c.dst.ID, lo: c.dstOff, hi: c.dstOff + c.size, write: true},
		}, nil
	case cmdDispatch:
		var spans []span
		for _, gid := range c.groups {
			g, ok := d.groups[gid]
			if !ok {
				return nil, fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownID, gid)
			}
			layout, ok := d.layouts[g.layout]
			if !ok {
				return nil, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownID, g.layout)
			}
			for _, e := range g.entries {
				typ := bindingType(layout, e.Binding)
				if typ == gpucore.BindingTypeUniformBuffer {
					continue
				}
				spans = append(spans, span{
					buffer: e.Buffer.ID,
					lo:     e.Offset,
					hi:     e.Offset + e.Size,
					write:  typ.Writable(),
				})
			}
		}
		return spans, nil
	}
	return nil, nil
}

func bindingType(layout *gpucore.BindGroupLayoutDesc, binding uint32) gpucore.BindingType {
	for _, le := range layout.Entries {
		if le.Binding == binding {
			return le.Type
		}
	}
	return 0
}
