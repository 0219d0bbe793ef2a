// Package shaderinfo reflects WGSL compute shaders into a plain layout
// description.
//
// Reflection is kept apart from pipeline construction: [Reflect] parses
// and lowers the source with naga and reports the buffer bindings, the
// parameter block and the workgroup size. Turning a [Layout] into bind
// group layouts and pipelines is the caller's job.
package shaderinfo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/gpuprim/gpucore"
)

// Group indices understood by the reflector.
const (
	// BufferGroup holds the kernel's storage buffers.
	BufferGroup = 0

	// ParamsGroup holds the per-dispatch parameter block at binding 0.
	ParamsGroup = 1
)

// Reflection errors.
var (
	ErrNoEntryPoint    = errors.New("shaderinfo: entry point not found")
	ErrNotCompute      = errors.New("shaderinfo: entry point is not a compute shader")
	ErrUnsupported     = errors.New("shaderinfo: unsupported binding")
	ErrDuplicate       = errors.New("shaderinfo: duplicate binding")
	ErrInvalidShader   = errors.New("shaderinfo: shader failed validation")
	ErrParamsNotStruct = errors.New("shaderinfo: parameter block is not a struct")
)

// Binding describes one buffer binding.
type Binding struct {
	Group   uint32
	Binding uint32
	Name    string
	Type    gpucore.BindingType

	// Size is the fixed size in bytes. For a runtime-sized array it is the
	// size of the part before the array.
	Size uint32

	// Stride is the element stride of a runtime-sized array, 0 otherwise.
	Stride uint32

	// Atomic reports whether the array elements are atomics.
	Atomic bool
}

// Layout is the reflected interface of one compute entry point.
type Layout struct {
	EntryPoint string
	Workgroup  [3]uint32

	// Bindings are the @group(0) buffers sorted by binding number.
	Bindings []Binding

	// ParamsSize is the size of the parameter block in bytes, 0 if the
	// shader declares none. The block is either a uniform at
	// @group(1) @binding(0) or a push-constant variable.
	ParamsSize uint32

	// ParamsFields lists the parameter struct's member names in order.
	ParamsFields []string

	// PushConstant reports that the parameter block is declared as
	// var<push_constant> rather than a uniform.
	PushConstant bool

	// WorkgroupMemory is the total size of var<workgroup> declarations.
	WorkgroupMemory uint32
}

// InvocationsPerWorkgroup returns the product of the workgroup dimensions.
func (l *Layout) InvocationsPerWorkgroup() uint32 {
	return l.Workgroup[0] * l.Workgroup[1] * l.Workgroup[2]
}

// Binding returns the group-0 binding with the given number.
func (l *Layout) Binding(n uint32) (Binding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return Binding{}, false
}

// Reflect parses WGSL source and reflects the named entry point.
func Reflect(source, entryPoint string) (*Layout, error) {
	module, err := lower(source)
	if err != nil {
		return nil, err
	}
	return ReflectModule(module, entryPoint)
}

// Validate parses, lowers and validates WGSL source with naga.
func Validate(source string) error {
	module, err := lower(source)
	if err != nil {
		return err
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return fmt.Errorf("shaderinfo: validate: %w", err)
	}
	if len(verrs) > 0 {
		return fmt.Errorf("%w: %s (and %d more)", ErrInvalidShader, verrs[0].Message, len(verrs)-1)
	}
	return nil
}

func lower(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: %w", err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: lower: %w", err)
	}
	return module, nil
}

// ReflectModule reflects an already lowered naga module.
func ReflectModule(module *ir.Module, entryPoint string) (*Layout, error) {
	var ep *ir.EntryPoint
	for i := range module.EntryPoints {
		if module.EntryPoints[i].Name == entryPoint {
			ep = &module.EntryPoints[i]
			break
		}
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoEntryPoint, entryPoint)
	}
	if ep.Stage != ir.StageCompute {
		return nil, fmt.Errorf("%w: %q", ErrNotCompute, entryPoint)
	}

	layout := &Layout{EntryPoint: entryPoint, Workgroup: ep.Workgroup}
	seen := make(map[[2]uint32]string)

	for _, gv := range module.GlobalVariables {
		switch gv.Space {
		case ir.SpaceWorkGroup:
			layout.WorkgroupMemory += ir.TypeSize(module, gv.Type)
			continue
		case ir.SpacePushConstant:
			if err := reflectParams(module, gv, layout); err != nil {
				return nil, err
			}
			layout.PushConstant = true
			continue
		case ir.SpaceUniform, ir.SpaceStorage:
		default:
			continue
		}
		if gv.Binding == nil {
			return nil, fmt.Errorf("%w: %q has no @group/@binding", ErrUnsupported, gv.Name)
		}

		key := [2]uint32{gv.Binding.Group, gv.Binding.Binding}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: @group(%d) @binding(%d) used by %q and %q",
				ErrDuplicate, key[0], key[1], prev, gv.Name)
		}
		seen[key] = gv.Name

		switch {
		case gv.Binding.Group == ParamsGroup && gv.Binding.Binding == 0 && gv.Space == ir.SpaceUniform:
			if err := reflectParams(module, gv, layout); err != nil {
				return nil, err
			}
		case gv.Binding.Group == BufferGroup:
			layout.Bindings = append(layout.Bindings, reflectBuffer(module, gv))
		default:
			return nil, fmt.Errorf("%w: %q at @group(%d) @binding(%d)",
				ErrUnsupported, gv.Name, gv.Binding.Group, gv.Binding.Binding)
		}
	}

	sort.Slice(layout.Bindings, func(i, j int) bool {
		return layout.Bindings[i].Binding < layout.Bindings[j].Binding
	})
	return layout, nil
}

func reflectParams(module *ir.Module, gv ir.GlobalVariable, layout *Layout) error {
	st, ok := module.Types[gv.Type].Inner.(ir.StructType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrParamsNotStruct, gv.Name)
	}
	layout.ParamsSize = st.Span
	layout.ParamsFields = layout.ParamsFields[:0]
	for _, m := range st.Members {
		layout.ParamsFields = append(layout.ParamsFields, m.Name)
	}
	return nil
}

func reflectBuffer(module *ir.Module, gv ir.GlobalVariable) Binding {
	b := Binding{
		Group:   gv.Binding.Group,
		Binding: gv.Binding.Binding,
		Name:    gv.Name,
	}
	switch {
	case gv.Space == ir.SpaceUniform:
		b.Type = gpucore.BindingTypeUniformBuffer
	case gv.Access == ir.StorageRead:
		b.Type = gpucore.BindingTypeReadOnlyStorageBuffer
	default:
		b.Type = gpucore.BindingTypeStorageBuffer
	}

	inner := module.Types[gv.Type].Inner
	if st, ok := inner.(ir.StructType); ok && len(st.Members) > 0 {
		last := st.Members[len(st.Members)-1]
		if arr, ok := module.Types[last.Type].Inner.(ir.ArrayType); ok && arr.Size.Constant == nil {
			b.Size = last.Offset
			b.Stride = arr.Stride
			b.Atomic = isAtomic(module, arr.Base)
			return b
		}
		b.Size = st.Span
		return b
	}
	if arr, ok := inner.(ir.ArrayType); ok {
		b.Atomic = isAtomic(module, arr.Base)
		if arr.Size.Constant == nil {
			b.Stride = arr.Stride
			return b
		}
	}
	b.Size = ir.TypeSize(module, gv.Type)
	return b
}

func isAtomic(module *ir.Module, h ir.TypeHandle) bool {
	if int(h) >= len(module.Types) {
		return false
	}
	_, ok := module.Types[h].Inner.(ir.AtomicType)
	return ok
}
