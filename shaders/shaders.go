// Package shaders holds the WGSL compute kernels used by gpuprim.
//
// Kernels are addressed by name. Most map to one embedded file; the reduce
// kernels share one body and differ only in a generated prelude defining
// the element type, the operator identity and the combine function.
// Every kernel's entry point is [EntryPoint], its buffers live in
// @group(0) and its parameter block is the uniform at @group(1) @binding(0).
package shaders

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
)

// Embedded WGSL shader sources.

//go:embed reduce.wgsl
var reduceBody string

//go:embed scan_down_global.wgsl
var scanDownGlobalSource string

//go:embed scan_down_local.wgsl
var scanDownLocalSource string

//go:embed bucket_count.wgsl
var bucketCountSource string

//go:embed bucket_scatter.wgsl
var bucketScatterSource string

//go:embed radix_count.wgsl
var radixCountSource string

//go:embed radix_digit_scan.wgsl
var radixDigitScanSource string

//go:embed radix_reorder.wgsl
var radixReorderSource string

//go:embed bvh_node.wgsl
var bvhNodeSource string

//go:embed bvh_build.wgsl
var bvhBuildSource string

//go:embed light_discretize.wgsl
var lightDiscretizeSource string

//go:embed light_leaf_init.wgsl
var lightLeafInitSource string

// EntryPoint is the entry point name shared by every kernel.
const EntryPoint = "main"

// WorkgroupSize is the workgroup width of every kernel except
// [RadixDigitScan].
const WorkgroupSize = 256

// Kernel names.
const (
	ScanDownGlobal  = "scan_down_global"
	ScanDownLocal   = "scan_down_local"
	BucketCount     = "bucket_count"
	BucketScatter   = "bucket_scatter"
	RadixCount      = "radix_count"
	RadixDigitScan  = "radix_digit_scan"
	RadixReorder    = "radix_reorder"
	BVHBuild        = "bvh_build"
	LightDiscretize = "light_discretize"
	LightLeafInit   = "light_leaf_init"
)

// ErrUnknownKernel is returned by Source for names not in the registry.
var ErrUnknownKernel = errors.New("shaders: unknown kernel")

// Reduce operator and element names used in reduce kernel names.
var (
	reduceOps   = []string{"add", "min", "max"}
	reduceElems = []string{"u32", "vec4"}
)

// ReduceKernel returns the kernel name for a reduce variant, for example
// "reduce_max_vec4".
func ReduceKernel(op, elem string) string {
	return fmt.Sprintf("reduce_%s_%s", op, elem)
}

var registry = buildRegistry()

func buildRegistry() map[string]string {
	r := map[string]string{
		ScanDownGlobal:  scanDownGlobalSource,
		ScanDownLocal:   scanDownLocalSource,
		BucketCount:     bucketCountSource,
		BucketScatter:   bucketScatterSource,
		RadixCount:      radixCountSource,
		RadixDigitScan:  radixDigitScanSource,
		RadixReorder:    radixReorderSource,
		BVHBuild:        bvhNodeSource + "\n" + bvhBuildSource,
		LightDiscretize: lightDiscretizeSource,
		LightLeafInit:   bvhNodeSource + "\n" + lightLeafInitSource,
	}
	for _, op := range reduceOps {
		for _, elem := range reduceElems {
			r[ReduceKernel(op, elem)] = reducePrelude(op, elem) + "\n" + reduceBody
		}
	}
	return r
}

// reducePrelude defines Elem, identity() and combine() for one variant.
// The f32 identities for min/max are the largest finite magnitudes, which
// act as +Inf/-Inf for any finite input.
func reducePrelude(op, elem string) string {
	var typ, ident, combine string
	switch elem {
	case "u32":
		typ = "u32"
		switch op {
		case "add":
			ident, combine = "0u", "a + b"
		case "min":
			ident, combine = "0xffffffffu", "min(a, b)"
		case "max":
			ident, combine = "0u", "max(a, b)"
		}
	case "vec4":
		typ = "vec4<f32>"
		switch op {
		case "add":
			ident, combine = "vec4<f32>(0.0)", "a + b"
		case "min":
			ident, combine = "vec4<f32>(3.40282347e38)", "min(a, b)"
		case "max":
			ident, combine = "vec4<f32>(-3.40282347e38)", "max(a, b)"
		}
	}
	return fmt.Sprintf(`alias Elem = %s;

fn identity() -> Elem {
    return %s;
}

fn combine(a: Elem, b: Elem) -> Elem {
    return %s;
}
`, typ, ident, combine)
}

// Source returns the complete WGSL source of a kernel.
func Source(kernel string) (string, error) {
	src, ok := registry[kernel]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKernel, kernel)
	}
	return src, nil
}

// Kernels returns every registered kernel name in sorted order.
func Kernels() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
