package gpuprim

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaderinfo"
	"github.com/gogpu/gpuprim/shaders"
)

// paramsBlockSize is the size of every kernel's uniform parameter block:
// eight u32 fields, unused ones as padding.
const paramsBlockSize = 32

const (
	ro = gpucore.BindingTypeReadOnlyStorageBuffer
	rw = gpucore.BindingTypeStorageBuffer
)

// kernelBindings lists, per kernel, the group-0 buffer bindings the
// primitives record, in binding order.
func kernelBindings(name string) ([]gpucore.BindingType, uint32, bool) {
	if strings.HasPrefix(name, "reduce_") {
		return []gpucore.BindingType{rw}, WorkgroupSize, true
	}
	switch name {
	case shaders.ScanDownGlobal, shaders.ScanDownLocal, shaders.BVHBuild:
		return []gpucore.BindingType{rw}, WorkgroupSize, true
	case shaders.BucketCount, shaders.BucketScatter, shaders.RadixCount, shaders.LightDiscretize:
		return []gpucore.BindingType{ro, rw}, WorkgroupSize, true
	case shaders.RadixDigitScan:
		return []gpucore.BindingType{rw}, 16, true
	case shaders.RadixReorder:
		return []gpucore.BindingType{ro, ro, rw}, WorkgroupSize, true
	case shaders.LightLeafInit:
		return []gpucore.BindingType{ro, ro, ro, rw}, WorkgroupSize, true
	}
	return nil, 0, false
}

// expectedLayout returns the layout the primitives assume for a kernel.
func expectedLayout(name string) (*shaderinfo.Layout, error) {
	types, wg, ok := kernelBindings(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	l := &shaderinfo.Layout{
		EntryPoint: shaders.EntryPoint,
		Workgroup:  [3]uint32{wg, 1, 1},
		ParamsSize: paramsBlockSize,
	}
	for i, t := range types {
		l.Bindings = append(l.Bindings, shaderinfo.Binding{
			Group:   shaderinfo.BufferGroup,
			Binding: uint32(i),
			Type:    t,
		})
	}
	return l, nil
}

// compareLayouts checks a reflected layout against the expected one.
func compareLayouts(name string, want, got *shaderinfo.Layout) error {
	if got.PushConstant {
		return fmt.Errorf("%w: %s declares a push-constant block", ErrLayoutMismatch, name)
	}
	if got.Workgroup != want.Workgroup {
		return fmt.Errorf("%w: %s workgroup %v, want %v", ErrLayoutMismatch, name, got.Workgroup, want.Workgroup)
	}
	if got.ParamsSize != want.ParamsSize {
		return fmt.Errorf("%w: %s params block is %d bytes, want %d", ErrLayoutMismatch, name, got.ParamsSize, want.ParamsSize)
	}
	if len(got.Bindings) != len(want.Bindings) {
		return fmt.Errorf("%w: %s has %d bindings, want %d", ErrLayoutMismatch, name, len(got.Bindings), len(want.Bindings))
	}
	for i := range want.Bindings {
		g, w := got.Bindings[i], want.Bindings[i]
		if g.Binding != w.Binding || g.Type != w.Type {
			return fmt.Errorf("%w: %s binding %d is %s %s, want %s at %d",
				ErrLayoutMismatch, name, i, g.Name, g.Type, w.Type, w.Binding)
		}
	}
	return nil
}

// kernel is a compute pipeline ready to dispatch.
type kernel struct {
	name         string
	layout       *shaderinfo.Layout
	bufferLayout gpucore.BindGroupLayoutID
	paramsLayout gpucore.BindGroupLayoutID
	pipeline     gpucore.ComputePipelineID
}

// kernel returns the cached pipeline for name, building it on first use.
func (c *Context) kernel(name string) (*kernel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if k, ok := c.kernels[name]; ok {
		return k, nil
	}

	src, err := shaders.Source(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKernelNotFound, err)
	}
	layout, err := expectedLayout(name)
	if err != nil {
		return nil, err
	}
	if c.opts.validate {
		if err := validateKernel(name, src, layout); err != nil {
			return nil, err
		}
	}
	k, err := c.buildKernel(name, src, layout)
	if err != nil {
		return nil, err
	}
	c.kernels[name] = k
	c.log().Debug("gpuprim: kernel built",
		"kernel", name,
		"bindings", len(layout.Bindings),
		"workgroup", layout.Workgroup[0])
	return k, nil
}

func validateKernel(name, src string, want *shaderinfo.Layout) error {
	if err := shaderinfo.Validate(src); err != nil {
		return fmt.Errorf("gpuprim: kernel %s: %w", name, err)
	}
	got, err := shaderinfo.Reflect(src, shaders.EntryPoint)
	if err != nil {
		return fmt.Errorf("gpuprim: kernel %s: %w", name, err)
	}
	return compareLayouts(name, want, got)
}

// buildKernel turns a layout into bind group layouts, a pipeline layout
// and a compute pipeline.
func (c *Context) buildKernel(name, src string, layout *shaderinfo.Layout) (*kernel, error) {
	label := c.label(name)
	k := &kernel{name: name, layout: layout}

	entries := make([]gpucore.BindGroupLayoutEntry, len(layout.Bindings))
	for i, b := range layout.Bindings {
		entries[i] = gpucore.BindGroupLayoutEntry{Binding: b.Binding, Type: b.Type}
	}
	var err error
	k.bufferLayout, err = c.device.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label:   label + " buffers",
		Entries: entries,
	})
	if err != nil {
		return nil, check(c.log(), "create bind group layout "+name, "", err)
	}
	k.paramsLayout, err = c.device.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: label + " params",
		Entries: []gpucore.BindGroupLayoutEntry{{
			Binding:        0,
			Type:           gpucore.BindingTypeUniformBuffer,
			MinBindingSize: uint64(layout.ParamsSize),
		}},
	})
	if err != nil {
		c.device.DestroyBindGroupLayout(k.bufferLayout)
		return nil, check(c.log(), "create bind group layout "+name, "", err)
	}
	k.pipeline, err = c.device.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:      label,
		Kernel:     name,
		WGSL:       src,
		EntryPoint: layout.EntryPoint,
		Layouts:    []gpucore.BindGroupLayoutID{k.bufferLayout, k.paramsLayout},
		Workgroup:  layout.Workgroup,
	})
	if err != nil {
		c.device.DestroyBindGroupLayout(k.paramsLayout)
		c.device.DestroyBindGroupLayout(k.bufferLayout)
		return nil, check(c.log(), "create compute pipeline "+name, "", err)
	}
	return k, nil
}

func (c *Context) destroyKernel(k *kernel) {
	c.device.DestroyComputePipeline(k.pipeline)
	c.device.DestroyBindGroupLayout(k.paramsLayout)
	c.device.DestroyBindGroupLayout(k.bufferLayout)
}
