package gpuprim

import (
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// BucketSortArgs describes a counting sort of (key, value) pairs with keys
// below BucketKeySize. Offset and Length count pairs.
type BucketSortArgs struct {
	Pairs  *gpucore.Buffer
	Offset uint32
	Length uint32

	// Scratch holds the sorted pairs in [0, 8*Length) followed by the
	// 4096 bucket counters. See BucketSortScratchSize.
	Scratch *gpucore.Buffer
}

type bucketParams struct {
	Offset       uint32
	Length       uint32
	CountsOffset uint32
	_            [5]uint32
}

// BucketSort sorts pairs by key in five stages, each followed by a
// barrier: clear the counters, count keys, scan the counters, scatter
// into scratch, copy back. Order within a bucket is unspecified.
//
// On return both the input range and scratch[0, 8*Length) hold the
// sorted pairs.
func BucketSort(rec *Recorder, a BucketSortArgs) error {
	precondition(a.Pairs != nil && a.Scratch != nil, "bucket sort: nil buffer")
	precondition(a.Length >= 1, "bucket sort: length must be >= 1")
	precondition((uint64(a.Offset)+uint64(a.Length))*PairSize <= a.Pairs.Size,
		"bucket sort: %d pairs at %d do not fit %s", a.Length, a.Offset, a.Pairs)
	precondition(BucketSortScratchSize(a.Length) <= a.Scratch.Size,
		"bucket sort: scratch %s smaller than %d bytes", a.Scratch, BucketSortScratchSize(a.Length))
	precondition(a.Pairs.ID != a.Scratch.ID, "bucket sort: pairs and scratch are the same buffer")

	n := a.Length
	pairBytes := uint64(n) * PairSize
	params := bucketParams{Offset: a.Offset, Length: n, CountsOffset: 2 * n}
	groups := [3]uint32{ceilDiv(n, WorkgroupSize), 1, 1}

	rec.ClearBuffer(a.Scratch, pairBytes, BucketKeySize*4)
	rec.Barrier(a.Scratch)

	rec.dispatch(shaders.BucketCount, groups, params, a.Pairs, a.Scratch)
	rec.Barrier(a.Scratch)

	if err := Scan(rec, ScanArgs{
		Buffer: a.Scratch,
		Offset: 2 * n,
		Length: BucketKeySize,
		Blocks: 1,
	}); err != nil {
		return err
	}

	rec.dispatch(shaders.BucketScatter, groups, params, a.Pairs, a.Scratch)
	rec.Barrier(a.Scratch)

	rec.CopyBuffer(a.Scratch, 0, a.Pairs, uint64(a.Offset)*PairSize, pairBytes)
	rec.Barrier(a.Pairs)

	rec.ctx.log().Debug("gpuprim: bucket sort", "length", n)
	return rec.Err()
}
