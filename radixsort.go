package gpuprim

import (
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/shaders"
)

// RadixSortArgs describes a full-width sort of u32 keys.
type RadixSortArgs struct {
	Keys   *gpucore.Buffer
	Length uint32

	// Scratch1 holds the per-workgroup digit histograms and the 16 global
	// digit offsets. See RadixScratch1Size.
	Scratch1 *gpucore.Buffer

	// Scratch2 is the ping-pong copy of the keys. See RadixScratch2Size.
	Scratch2 *gpucore.Buffer
}

type radixParams struct {
	Shift uint32
	NumWG uint32
	_     [6]uint32
}

type digitScanParams struct {
	NumWG uint32
	_     [7]uint32
}

// RadixSort sorts Length keys with eight stable 4-bit digit passes. Each
// pass counts digits per workgroup, scans the histograms into global and
// per-workgroup offsets and scatters into the other buffer. Even passes
// write Scratch2, odd passes write Keys, so the result ends in Keys.
func RadixSort(rec *Recorder, a RadixSortArgs) error {
	precondition(a.Keys != nil && a.Scratch1 != nil && a.Scratch2 != nil, "radix sort: nil buffer")
	precondition(IsPow2(a.Length) && a.Length >= WorkgroupSize,
		"radix sort: length %d is not a power of two >= %d", a.Length, WorkgroupSize)
	precondition(uint64(a.Length)*4 <= a.Keys.Size, "radix sort: %d keys do not fit %s", a.Length, a.Keys)
	precondition(RadixScratch1Size(a.Length) <= a.Scratch1.Size,
		"radix sort: scratch1 %s smaller than %d bytes", a.Scratch1, RadixScratch1Size(a.Length))
	precondition(RadixScratch2Size(a.Length) <= a.Scratch2.Size,
		"radix sort: scratch2 %s smaller than %d bytes", a.Scratch2, RadixScratch2Size(a.Length))

	numWG := a.Length / WorkgroupSize
	histBytes := RadixScratch1Size(a.Length)
	hist := ScanArgs{
		Buffer:      a.Scratch1,
		Length:      numWG,
		Blocks:      16,
		BlockStride: numWG,
	}

	for pass := uint32(0); pass < RadixPasses; pass++ {
		src, dst := a.Keys, a.Scratch2
		if pass%2 == 1 {
			src, dst = a.Scratch2, a.Keys
		}
		params := radixParams{Shift: 4 * pass, NumWG: numWG}

		rec.ClearBuffer(a.Scratch1, 0, histBytes)
		rec.Barrier(a.Scratch1)

		rec.dispatch(shaders.RadixCount, [3]uint32{numWG, 1, 1}, params, src, a.Scratch1)
		rec.Barrier(a.Scratch1)

		if err := Reduce(rec, ReduceArgs{
			Op:          ReduceAdd,
			Elem:        ElemU32,
			Buffer:      hist.Buffer,
			Length:      hist.Length,
			Blocks:      hist.Blocks,
			BlockStride: hist.BlockStride,
		}); err != nil {
			return err
		}

		rec.dispatch(shaders.RadixDigitScan, [3]uint32{1, 1, 1}, digitScanParams{NumWG: numWG}, a.Scratch1)
		rec.Barrier(a.Scratch1)

		if err := DownSweep(rec, hist); err != nil {
			return err
		}

		rec.dispatch(shaders.RadixReorder, [3]uint32{numWG, 1, 1}, params, src, a.Scratch1, dst)
		rec.Barrier(dst)
	}

	rec.ctx.log().Debug("gpuprim: radix sort", "length", a.Length, "workgroups", numWG)
	return rec.Err()
}
