package gpuprim

import (
	"fmt"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// ReduceOp is the combine operator of a reduction.
type ReduceOp uint8

// Reduce operators.
const (
	ReduceAdd ReduceOp = iota
	ReduceMin
	ReduceMax
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceAdd:
		return "add"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	default:
		return fmt.Sprintf("ReduceOp(%d)", uint8(op))
	}
}

// Elem is the element type of a reduction.
type Elem uint8

// Element types.
const (
	// ElemU32 is a 32-bit unsigned integer.
	ElemU32 Elem = iota

	// ElemVec4 is a vec4<f32>, combined component-wise.
	ElemVec4
)

func (e Elem) String() string {
	switch e {
	case ElemU32:
		return "u32"
	case ElemVec4:
		return "vec4"
	default:
		return fmt.Sprintf("Elem(%d)", uint8(e))
	}
}

// Size returns the element size in bytes.
func (e Elem) Size() uint64 {
	if e == ElemVec4 {
		return 16
	}
	return 4
}

// ReduceArgs describes one Reduce invocation. Offset, Length and
// BlockStride count elements, not bytes.
type ReduceArgs struct {
	Op     ReduceOp
	Elem   Elem
	Buffer *gpucore.Buffer

	// Offset is the first element of block 0.
	Offset uint32

	// Length is the number of elements per block. The region is padded
	// with the operator's identity to NextPow2(Length) elements, and the
	// buffer must have room for all of them.
	Length uint32

	// Blocks is the number of independent arrays reduced together.
	Blocks uint32

	// BlockStride is the distance between the starts of two blocks.
	BlockStride uint32
}

type reduceParams struct {
	Offset      uint32
	Length      uint32
	Stride      uint32
	Count       uint32
	Levels      uint32
	BlockStride uint32
	_           [2]uint32
}

func (a ReduceArgs) validate() {
	precondition(a.Buffer != nil, "reduce: nil buffer")
	precondition(a.Op <= ReduceMax, "reduce: unknown operator %v", a.Op)
	precondition(a.Elem <= ElemVec4, "reduce: unknown element type %v", a.Elem)
	precondition(a.Length >= 1, "reduce: length must be >= 1")
	precondition(a.Blocks > 0, "reduce: blocks must be > 0")
	p := NextPow2(a.Length)
	precondition(a.Blocks == 1 || a.BlockStride >= p,
		"reduce: block stride %d is smaller than the padded length %d", a.BlockStride, p)
	end := uint64(a.Offset) + uint64(a.Blocks-1)*uint64(a.BlockStride) + uint64(p)
	precondition(end*a.Elem.Size() <= a.Buffer.Size,
		"reduce: %d %s elements do not fit %s", end, a.Elem, a.Buffer)
}

// Reduce folds each block in place with the up-sweep of a binary tree
// over NextPow2(Length) elements. The block's result lands in its last
// padded slot (see ReduceResultIndex); the other slots keep the partial
// sums Scan's down-sweep consumes.
//
// Each dispatch folds up to ReduceLevelsPerDispatch levels; a barrier on
// the buffer follows every dispatch.
func Reduce(rec *Recorder, a ReduceArgs) error {
	a.validate()
	kernel := shaders.ReduceKernel(a.Op.String(), a.Elem.String())

	count := NextPow2(a.Length)
	stride := uint32(1)
	passes := 0
	for count > 1 {
		levels := min(uint32(ReduceLevelsPerDispatch), log2(count))
		rec.dispatch(kernel, [3]uint32{ceilDiv(count, WorkgroupSize), a.Blocks, 1}, reduceParams{
			Offset:      a.Offset,
			Length:      a.Length,
			Stride:      stride,
			Count:       count,
			Levels:      levels,
			BlockStride: a.BlockStride,
		}, a.Buffer)
		rec.Barrier(a.Buffer)
		stride <<= levels
		count >>= levels
		passes++
	}
	rec.ctx.log().Debug("gpuprim: reduce",
		"op", a.Op.String(),
		"elem", a.Elem.String(),
		"length", a.Length,
		"blocks", a.Blocks,
		"passes", passes)
	return rec.Err()
}
