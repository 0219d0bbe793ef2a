package gpuprim

import (
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// ScanArgs describes an exclusive prefix sum over u32 blocks. Offset,
// Length and BlockStride count elements.
type ScanArgs struct {
	Buffer      *gpucore.Buffer
	Offset      uint32
	Length      uint32
	Blocks      uint32
	BlockStride uint32
}

type scanGlobalParams struct {
	Offset      uint32
	Stride      uint32
	Pairs       uint32
	ClearLast   uint32
	BlockStride uint32
	_           [3]uint32
}

type scanLocalParams struct {
	Offset      uint32
	TopStride   uint32
	Chunk       uint32
	ClearLast   uint32
	BlockStride uint32
	_           [3]uint32
}

func (a ScanArgs) validate() {
	precondition(a.Buffer != nil, "scan: nil buffer")
	precondition(a.Length >= MinScanLength && IsPow2(a.Length), "scan: length %d is not a power of two", a.Length)
	precondition(a.Blocks > 0, "scan: blocks must be > 0")
	precondition(a.Blocks == 1 || a.BlockStride >= a.Length,
		"scan: block stride %d is smaller than the length %d", a.BlockStride, a.Length)
	end := uint64(a.Offset) + uint64(a.Blocks-1)*uint64(a.BlockStride) + uint64(a.Length)
	precondition(4*end <= a.Buffer.Size, "scan: %d elements do not fit %s", end, a.Buffer)
}

// Scan replaces each block with its exclusive prefix sum: the up-sweep of
// Reduce followed by DownSweep.
func Scan(rec *Recorder, a ScanArgs) error {
	a.validate()
	if err := Reduce(rec, ReduceArgs{
		Op:          ReduceAdd,
		Elem:        ElemU32,
		Buffer:      a.Buffer,
		Offset:      a.Offset,
		Length:      a.Length,
		Blocks:      a.Blocks,
		BlockStride: a.BlockStride,
	}); err != nil {
		return err
	}
	return DownSweep(rec, a)
}

// DownSweep runs the Blelloch down-sweep over blocks that already hold
// the up-sweep partial sums of Reduce(add). It zeroes each block's root
// and leaves the exclusive prefix sum.
//
// Strides of 512 and above run one global dispatch per level. A single
// local dispatch finishes the rest in 512-element chunks.
func DownSweep(rec *Recorder, a ScanArgs) error {
	a.validate()
	n := a.Length

	levels := 0
	for s := n / 2; s >= localScanChunk; s >>= 1 {
		pairs := n / (2 * s)
		rec.dispatch(shaders.ScanDownGlobal, [3]uint32{ceilDiv(pairs, WorkgroupSize), a.Blocks, 1}, scanGlobalParams{
			Offset:      a.Offset,
			Stride:      s,
			Pairs:       pairs,
			ClearLast:   boolU32(pairs == 1),
			BlockStride: a.BlockStride,
		}, a.Buffer)
		rec.Barrier(a.Buffer)
		levels++
	}

	chunk := min(n, localScanChunk)
	rec.dispatch(shaders.ScanDownLocal, [3]uint32{n / chunk, a.Blocks, 1}, scanLocalParams{
		Offset:      a.Offset,
		TopStride:   min(n/2, WorkgroupSize),
		Chunk:       chunk,
		ClearLast:   boolU32(n <= localScanChunk),
		BlockStride: a.BlockStride,
	}, a.Buffer)
	rec.Barrier(a.Buffer)

	rec.ctx.log().Debug("gpuprim: down-sweep",
		"length", n,
		"blocks", a.Blocks,
		"global_levels", levels)
	return rec.Err()
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
