package gpuprim

import (
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// BVHArgs describes a BVH build over leaves already written at the start
// of Nodes.
type BVHArgs struct {
	Nodes     *gpucore.Buffer
	LeafCount uint32
}

type bvhParams struct {
	SrcLevel uint32
	DstLevel uint32
	SrcCount uint32
	DstCount uint32
	_        [4]uint32
}

// BuildBVH builds the internal levels of a 32-ary BVH bottom-up, one
// dispatch and one barrier per level, and returns the root index.
//
// Every parent is the union of its valid children. A parent whose children
// are all invalid is itself invalid.
func BuildBVH(rec *Recorder, a BVHArgs) (uint32, error) {
	precondition(a.Nodes != nil, "bvh: nil buffer")
	precondition(a.LeafCount > 0 && a.LeafCount%BVHBranching == 0,
		"bvh: leaf count %d is not a positive multiple of %d", a.LeafCount, BVHBranching)
	precondition(BVHRequiredSize(a.LeafCount) <= a.Nodes.Size,
		"bvh: %s smaller than %d bytes", a.Nodes, BVHRequiredSize(a.LeafCount))

	var src uint32
	count := a.LeafCount
	levels := 0
	for count > 1 {
		dst := src + count
		parents := ceilDiv(count, BVHBranching)
		rec.dispatch(shaders.BVHBuild, [3]uint32{ceilDiv(parents, WorkgroupSize), 1, 1}, bvhParams{
			SrcLevel: src,
			DstLevel: dst,
			SrcCount: count,
			DstCount: parents,
		}, a.Nodes)
		rec.Barrier(a.Nodes)
		src, count = dst, parents
		levels++
	}

	rec.ctx.log().Debug("gpuprim: bvh", "leaves", a.LeafCount, "levels", levels, "root", src)
	return src, rec.Err()
}
