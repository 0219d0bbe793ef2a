package gpucore

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gogpu/gpuprim/resource"
)

// PoolStats reports descriptor pool activity.
type PoolStats struct {
	// Live is the number of bind groups currently alive.
	Live int

	// Created counts bind groups created since the pool was made.
	Created uint64

	// Reused counts Acquire calls answered by a live bind group.
	Reused uint64
}

// DescriptorPool hands out bind groups with reference-counted lifetimes.
//
// Bind groups live in a [resource.Arena]. Acquire returns a strong
// reference; the caller pushes it into the resource.Container of the
// submission that uses it, so the bind group is destroyed only after the
// GPU is done. While any strong reference is alive, an Acquire with the
// same layout and entries returns the existing bind group. The lookup
// goes through weak references and never keeps a bind group alive.
type DescriptorPool struct {
	device Device
	arena  *resource.Arena[BindGroupID]

	mu      sync.Mutex
	byKey   map[string]resource.Weak[BindGroupID]
	keyOf   map[BindGroupID]string
	created uint64
	reused  uint64
}

// NewDescriptorPool creates a pool that allocates from device.
func NewDescriptorPool(device Device) *DescriptorPool {
	p := &DescriptorPool{
		device: device,
		byKey:  make(map[string]resource.Weak[BindGroupID]),
		keyOf:  make(map[BindGroupID]string),
	}
	p.arena = resource.NewArena(p.destroy)
	return p
}

// Acquire returns a bind group for layout with the given entries.
func (p *DescriptorPool) Acquire(label string, layout BindGroupLayoutID, entries []BindGroupEntry) (*resource.Strong[BindGroupID], error) {
	key := bindGroupKey(layout, entries)

	p.mu.Lock()
	if w, ok := p.byKey[key]; ok {
		if s, ok := w.Upgrade(); ok {
			p.reused++
			p.mu.Unlock()
			return s, nil
		}
		delete(p.byKey, key)
	}
	p.mu.Unlock()

	id, err := p.device.CreateBindGroup(&BindGroupDesc{
		Label:   label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("descriptor pool: create bind group %q: %w", label, err)
	}

	s := p.arena.Insert(id)
	p.mu.Lock()
	p.byKey[key] = s.Weak()
	p.keyOf[id] = key
	p.created++
	p.mu.Unlock()
	return s, nil
}

// Stats returns a snapshot of pool activity.
func (p *DescriptorPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Live: p.arena.Len(), Created: p.created, Reused: p.reused}
}

// Close destroys every bind group still alive. Outstanding strong
// references become inert.
func (p *DescriptorPool) Close() {
	p.arena.Close()
}

func (p *DescriptorPool) destroy(id BindGroupID) {
	p.mu.Lock()
	if key, ok := p.keyOf[id]; ok {
		delete(p.keyOf, id)
		if w, ok := p.byKey[key]; ok && !w.Alive() {
			delete(p.byKey, key)
		}
	}
	p.mu.Unlock()
	p.device.DestroyBindGroup(id)
}

func bindGroupKey(layout BindGroupLayoutID, entries []BindGroupEntry) string {
	b := make([]byte, 0, 16+len(entries)*32)
	b = strconv.AppendUint(b, uint64(layout), 16)
	for _, e := range entries {
		b = append(b, '|')
		b = strconv.AppendUint(b, uint64(e.Binding), 10)
		b = append(b, ':')
		var id BufferID
		if e.Buffer != nil {
			id = e.Buffer.ID
		}
		b = strconv.AppendUint(b, uint64(id), 16)
		b = append(b, '+')
		b = strconv.AppendUint(b, e.Offset, 16)
		b = append(b, '/')
		b = strconv.AppendUint(b, e.Size, 16)
	}
	return string(b)
}
