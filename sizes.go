package gpuprim

import (
	"math/bits"

	"github.com/gogpu/gpuprim/shaders"
)

const (
	// WorkgroupSize is the invocation count of every kernel workgroup
	// except the 16-wide digit scan.
	WorkgroupSize = shaders.WorkgroupSize

	// ReduceLevelsPerDispatch is the number of tree levels one reduce
	// dispatch folds in workgroup memory, log2(WorkgroupSize).
	ReduceLevelsPerDispatch = 8

	// MinScanLength is the smallest length Scan accepts.
	MinScanLength = 1

	// BucketKeySize is the number of distinct keys BucketSort handles.
	// Keys must be below it.
	BucketKeySize = 4096

	// BVHBranching is the number of children of an internal BVH node.
	BVHBranching = 32

	// RadixPasses is the number of 4-bit digit passes RadixSort runs.
	RadixPasses = 8

	// localScanChunk is the number of elements one scan_down_local
	// workgroup finishes in workgroup memory.
	localScanChunk = 2 * WorkgroupSize
)

// NextPow2 returns the smallest power of two >= n. NextPow2(0) is 1.
func NextPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}

// IsPow2 reports whether n is a power of two.
func IsPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func log2(n uint32) uint32 {
	return uint32(bits.Len32(n)) - 1
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

func pad32(n uint32) uint32 {
	return ceilDiv(n, BVHBranching) * BVHBranching
}

// BVHLevelCounts returns the node count of every BVH level, leaves first.
func BVHLevelCounts(leafCount uint32) []uint32 {
	levels := []uint32{leafCount}
	for n := leafCount; n > 1; {
		n = ceilDiv(n, BVHBranching)
		levels = append(levels, n)
	}
	return levels
}

// BVHNodeCount returns the total number of nodes of a BVH over leafCount
// leaves.
func BVHNodeCount(leafCount uint32) uint32 {
	var total uint32
	for _, n := range BVHLevelCounts(leafCount) {
		total += n
	}
	return total
}

// BVHRequiredSize returns the byte size of the node buffer BuildBVH needs.
func BVHRequiredSize(leafCount uint32) uint64 {
	return BVHNodeSize * uint64(BVHNodeCount(leafCount))
}

// BucketSortScratchSize returns the scratch size in bytes BucketSort needs
// for n pairs.
func BucketSortScratchSize(n uint32) uint64 {
	return uint64(n)*PairSize + BucketKeySize*4
}

// RadixScratch1Size returns the histogram scratch size for n keys.
func RadixScratch1Size(n uint32) uint64 {
	numWG := uint64(n / WorkgroupSize)
	return (16*numWG + 16) * 4
}

// RadixScratch2Size returns the ping-pong scratch size for n keys.
func RadixScratch2Size(n uint32) uint64 {
	return uint64(n) * 4
}

// LightBVHScratch1Size returns the size of the first BuildLightBVH scratch
// buffer, which ends up holding the BVH.
func LightBVHScratch1Size(n uint32) uint64 {
	p := uint64(NextPow2(n))
	return max(32*p+32, BVHRequiredSize(pad32(n)))
}

// LightBVHScratch2Size returns the size of the second BuildLightBVH
// scratch buffer.
func LightBVHScratch2Size(n uint32) uint64 {
	return BucketSortScratchSize(n)
}

// LightBVHLeafCount returns the padded number of leaves for n lights.
func LightBVHLeafCount(n uint32) uint32 {
	return pad32(n)
}

// LightBVHRootIndex returns the index of the root node BuildLightBVH
// produces for n lights.
func LightBVHRootIndex(n uint32) uint32 {
	return BVHNodeCount(pad32(n)) - 1
}

// ReduceResultIndex returns the element index holding the result of the
// given block after Reduce.
func ReduceResultIndex(args ReduceArgs, block uint32) uint32 {
	return args.Offset + block*args.BlockStride + NextPow2(args.Length) - 1
}
