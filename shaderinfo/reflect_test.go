package shaderinfo

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

const (
	ro = gpucore.BindingTypeReadOnlyStorageBuffer
	rw = gpucore.BindingTypeStorageBuffer
)

func reflectKernel(t *testing.T, name string) *Layout {
	t.Helper()
	src, err := shaders.Source(name)
	if err != nil {
		t.Fatal(err)
	}
	layout, err := Reflect(src, shaders.EntryPoint)
	if err != nil {
		if strings.Contains(err.Error(), "not yet implemented") {
			t.Skipf("Skipping: naga feature not yet implemented: %v", err)
		}
		t.Fatalf("Reflect(%s): %v", name, err)
	}
	return layout
}

func TestReflectKernels(t *testing.T) {
	tests := []struct {
		kernel    string
		bindings  []gpucore.BindingType
		workgroup uint32
	}{
		{shaders.ReduceKernel("add", "u32"), []gpucore.BindingType{rw}, 256},
		{shaders.ReduceKernel("max", "vec4"), []gpucore.BindingType{rw}, 256},
		{shaders.ScanDownGlobal, []gpucore.BindingType{rw}, 256},
		{shaders.ScanDownLocal, []gpucore.BindingType{rw}, 256},
		{shaders.BucketCount, []gpucore.BindingType{ro, rw}, 256},
		{shaders.BucketScatter, []gpucore.BindingType{ro, rw}, 256},
		{shaders.RadixCount, []gpucore.BindingType{ro, rw}, 256},
		{shaders.RadixDigitScan, []gpucore.BindingType{rw}, 16},
		{shaders.RadixReorder, []gpucore.BindingType{ro, ro, rw}, 256},
		{shaders.BVHBuild, []gpucore.BindingType{rw}, 256},
		{shaders.LightDiscretize, []gpucore.BindingType{ro, rw}, 256},
		{shaders.LightLeafInit, []gpucore.BindingType{ro, ro, ro, rw}, 256},
	}
	for _, tt := range tests {
		t.Run(tt.kernel, func(t *testing.T) {
			layout := reflectKernel(t, tt.kernel)

			if got := layout.Workgroup; got != [3]uint32{tt.workgroup, 1, 1} {
				t.Errorf("Workgroup = %v, want [%d 1 1]", got, tt.workgroup)
			}
			if len(layout.Bindings) != len(tt.bindings) {
				t.Fatalf("len(Bindings) = %d, want %d", len(layout.Bindings), len(tt.bindings))
			}
			for i, b := range layout.Bindings {
				if b.Binding != uint32(i) {
					t.Errorf("Bindings[%d].Binding = %d, want %d", i, b.Binding, i)
				}
				if b.Type != tt.bindings[i] {
					t.Errorf("Bindings[%d].Type = %v, want %v", i, b.Type, tt.bindings[i])
				}
				if b.Stride == 0 {
					t.Errorf("Bindings[%d] (%s) is not a runtime-sized array", i, b.Name)
				}
			}
			if layout.ParamsSize != 32 {
				t.Errorf("ParamsSize = %d, want 32", layout.ParamsSize)
			}
			if layout.PushConstant {
				t.Error("PushConstant = true, want uniform parameter block")
			}
		})
	}
}

func TestReflectStridesAndAtomics(t *testing.T) {
	count := reflectKernel(t, shaders.BucketCount)
	pairs, _ := count.Binding(0)
	scratch, _ := count.Binding(1)
	if pairs.Stride != 8 {
		t.Errorf("pairs stride = %d, want 8", pairs.Stride)
	}
	if !scratch.Atomic {
		t.Error("bucket scratch not reflected as atomic")
	}

	bvh := reflectKernel(t, shaders.BVHBuild)
	nodes, _ := bvh.Binding(0)
	if nodes.Stride != 32 {
		t.Errorf("BVHNode stride = %d, want 32", nodes.Stride)
	}

	vec4 := reflectKernel(t, shaders.ReduceKernel("min", "vec4"))
	data, _ := vec4.Binding(0)
	if data.Stride != 16 {
		t.Errorf("vec4 stride = %d, want 16", data.Stride)
	}
}

func TestReflectParamsFields(t *testing.T) {
	layout := reflectKernel(t, shaders.ReduceKernel("add", "u32"))
	want := []string{"offset", "length", "stride", "count", "levels", "block_stride", "_pad0", "_pad1"}
	if len(layout.ParamsFields) != len(want) {
		t.Fatalf("ParamsFields = %v, want %v", layout.ParamsFields, want)
	}
	for i := range want {
		if layout.ParamsFields[i] != want[i] {
			t.Errorf("ParamsFields[%d] = %q, want %q", i, layout.ParamsFields[i], want[i])
		}
	}
	if layout.WorkgroupMemory != 256*4 {
		t.Errorf("WorkgroupMemory = %d, want %d", layout.WorkgroupMemory, 256*4)
	}
}

func TestReflectErrors(t *testing.T) {
	const compute = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = gid.x;
}
`
	if _, err := Reflect(compute, "missing"); !errors.Is(err, ErrNoEntryPoint) {
		t.Errorf("Reflect(missing entry) error = %v, want ErrNoEntryPoint", err)
	}

	const highGroup = `
@group(2) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = gid.x;
}
`
	if _, err := Reflect(highGroup, "main"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Reflect(@group(2)) error = %v, want ErrUnsupported", err)
	}

	if _, err := Reflect("fn broken( {", "main"); err == nil {
		t.Error("Reflect(syntax error) = nil error")
	}
}

func TestReflectSimpleCompute(t *testing.T) {
	const src = `
struct Params {
    n: u32,
    scale: f32,
}

@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(1) @binding(0) var<uniform> params: Params;

@compute @workgroup_size(64, 2, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.n) {
        dst[gid.x] = src[gid.x] * params.scale;
    }
}
`
	layout, err := Reflect(src, "main")
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if got := layout.InvocationsPerWorkgroup(); got != 128 {
		t.Errorf("InvocationsPerWorkgroup() = %d, want 128", got)
	}
	if layout.ParamsSize != 8 {
		t.Errorf("ParamsSize = %d, want 8", layout.ParamsSize)
	}
	if b, ok := layout.Binding(1); !ok || b.Name != "dst" || b.Type != rw {
		t.Errorf("Binding(1) = %+v, %v; want dst read_write", b, ok)
	}
	if _, ok := layout.Binding(5); ok {
		t.Error("Binding(5) found, want none")
	}
}
