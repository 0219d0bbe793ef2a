package gpuprim

import (
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// LightBVHArgs describes a light BVH build.
type LightBVHArgs struct {
	// Lights holds Count PointLight values.
	Lights *gpucore.Buffer

	// Positions holds Count vec4<f32> positions; w is ignored.
	Positions *gpucore.Buffer

	Count uint32

	// Scratch1 ends up holding the BVH. See LightBVHScratch1Size.
	Scratch1 *gpucore.Buffer

	// Scratch2 holds the sorted pairs. See LightBVHScratch2Size.
	Scratch2 *gpucore.Buffer
}

type discretizeParams struct {
	Length       uint32
	BoundsOffset uint32
	_            [6]uint32
}

type leafInitParams struct {
	Length uint32
	Padded uint32
	_      [6]uint32
}

// BuildLightBVH indexes point lights spatially and returns the root index
// of the BVH left in Scratch1.
//
// It takes the scene bounds with two vec4 reductions, maps every light to
// a 12-bit Morton key on a 16³ grid, bucket-sorts the (key, light) pairs,
// turns them into leaves padded to a multiple of 32 and builds the levels
// above. Every step is followed by a barrier.
//
// Scratch1 is reused across steps:
//
//	[0, 16P)         positions, reduced to the max
//	[16P, 32P)       positions, reduced to the min
//	[32P, 32P+32)    bounds: min vec4, max vec4
//	[0, 8n)          Morton pairs, once the bounds are taken
//	[0, ...)         BVH nodes, leaves first
//
// where P = NextPow2(Count).
func BuildLightBVH(rec *Recorder, a LightBVHArgs) (uint32, error) {
	precondition(a.Count > 0, "light bvh: no lights")
	precondition(a.Lights != nil && a.Positions != nil && a.Scratch1 != nil && a.Scratch2 != nil, "light bvh: nil buffer")
	n := a.Count
	precondition(uint64(n)*PointLightSize <= a.Lights.Size, "light bvh: %d lights do not fit %s", n, a.Lights)
	precondition(uint64(n)*PositionSize <= a.Positions.Size, "light bvh: %d positions do not fit %s", n, a.Positions)
	precondition(LightBVHScratch1Size(n) <= a.Scratch1.Size,
		"light bvh: scratch1 %s smaller than %d bytes", a.Scratch1, LightBVHScratch1Size(n))
	precondition(LightBVHScratch2Size(n) <= a.Scratch2.Size,
		"light bvh: scratch2 %s smaller than %d bytes", a.Scratch2, LightBVHScratch2Size(n))

	p := NextPow2(n)
	p64 := uint64(p)
	posBytes := uint64(n) * PositionSize
	boundsByte := 32 * p64
	s1 := a.Scratch1

	rec.CopyBuffer(a.Positions, 0, s1, 0, posBytes)
	rec.CopyBuffer(a.Positions, 0, s1, 16*p64, posBytes)
	rec.Barrier(s1)

	maxArgs := ReduceArgs{Op: ReduceMax, Elem: ElemVec4, Buffer: s1, Offset: 0, Length: n, Blocks: 1}
	minArgs := ReduceArgs{Op: ReduceMin, Elem: ElemVec4, Buffer: s1, Offset: p, Length: n, Blocks: 1}
	if err := Reduce(rec, maxArgs); err != nil {
		return 0, err
	}
	if err := Reduce(rec, minArgs); err != nil {
		return 0, err
	}

	rec.CopyBuffer(s1, 16*uint64(ReduceResultIndex(minArgs, 0)), s1, boundsByte, 16)
	rec.CopyBuffer(s1, 16*uint64(ReduceResultIndex(maxArgs, 0)), s1, boundsByte+16, 16)
	rec.Barrier(s1)

	rec.dispatch(shaders.LightDiscretize, [3]uint32{ceilDiv(n, WorkgroupSize), 1, 1}, discretizeParams{
		Length:       n,
		BoundsOffset: uint32(boundsByte / 4),
	}, a.Positions, s1)
	rec.Barrier(s1)

	if err := BucketSort(rec, BucketSortArgs{Pairs: s1, Length: n, Scratch: a.Scratch2}); err != nil {
		return 0, err
	}

	leaves := LightBVHLeafCount(n)
	rec.dispatch(shaders.LightLeafInit, [3]uint32{ceilDiv(leaves, WorkgroupSize), 1, 1}, leafInitParams{
		Length: n,
		Padded: leaves,
	}, a.Lights, a.Positions, a.Scratch2, s1)
	rec.Barrier(s1)

	root, err := BuildBVH(rec, BVHArgs{Nodes: s1, LeafCount: leaves})
	if err != nil {
		return 0, err
	}
	rec.ctx.log().Debug("gpuprim: light bvh", "lights", n, "leaves", leaves, "root", root)
	return root, nil
}
