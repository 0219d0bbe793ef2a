package gpuprim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exclusiveScan(vals []uint32) []uint32 {
	out := make([]uint32, len(vals))
	var sum uint32
	for i, v := range vals {
		out[i] = sum
		sum += v
	}
	return out
}

func TestScanConcrete(t *testing.T) {
	pc, _ := newTestContext(t)
	buf := uploadBuffer(t, pc, "data", EncodeUint32s([]uint32{5, 3, 8, 1, 2, 9, 4, 7}), 0)
	run(t, pc, "scan", func(rec *Recorder) error {
		return Scan(rec, ScanArgs{Buffer: buf, Length: 8, Blocks: 1})
	})
	assert.Equal(t, []uint32{0, 5, 8, 16, 17, 19, 28, 32}, readUint32s(t, pc, buf, 0, 8))
}

func TestScanLengths(t *testing.T) {
	r := testRand()
	for _, n := range []uint32{1, 2, 4, 256, 512, 1024, 2048, 4096, 1 << 16, 1 << 20} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			if n > 1<<16 && testing.Short() {
				t.Skip("large scan in short mode")
			}
			pc, _ := newTestContext(t)
			vals := randomUint32s(r, int(n), 100)
			buf := uploadBuffer(t, pc, "data", EncodeUint32s(vals), 0)
			run(t, pc, "scan", func(rec *Recorder) error {
				return Scan(rec, ScanArgs{Buffer: buf, Length: n, Blocks: 1})
			})
			assert.Equal(t, exclusiveScan(vals), readUint32s(t, pc, buf, 0, n))
		})
	}
}

func TestScanOffsetAndBlocks(t *testing.T) {
	pc, _ := newTestContext(t)
	r := testRand()
	const offset, n, blocks, stride = 8, 1024, 3, 1100
	total := offset + (blocks-1)*stride + n
	vals := randomUint32s(r, total, 50)
	buf := uploadBuffer(t, pc, "data", EncodeUint32s(vals), 0)

	run(t, pc, "scan blocks", func(rec *Recorder) error {
		return Scan(rec, ScanArgs{Buffer: buf, Offset: offset, Length: n, Blocks: blocks, BlockStride: stride})
	})

	got := readUint32s(t, pc, buf, 0, uint32(total))
	assert.Equal(t, vals[:offset], got[:offset], "prefix before the first block untouched")
	for b := 0; b < blocks; b++ {
		start := offset + b*stride
		assert.Equal(t, exclusiveScan(vals[start:start+n]), got[start:start+n], "block %d", b)
		if b+1 < blocks {
			gap := start + n
			assert.Equal(t, vals[gap:gap+stride-n], got[gap:gap+stride-n], "gap after block %d", b)
		}
	}
}

func TestDownSweepAfterReduce(t *testing.T) {
	pc, _ := newTestContext(t)
	vals := []uint32{1, 2, 3, 4, 5, 6, 7, 8}
	buf := uploadBuffer(t, pc, "data", EncodeUint32s(vals), 0)
	run(t, pc, "split scan", func(rec *Recorder) error {
		if err := Reduce(rec, ReduceArgs{Op: ReduceAdd, Elem: ElemU32, Buffer: buf, Length: 8, Blocks: 1}); err != nil {
			return err
		}
		return DownSweep(rec, ScanArgs{Buffer: buf, Length: 8, Blocks: 1})
	})
	assert.Equal(t, exclusiveScan(vals), readUint32s(t, pc, buf, 0, 8))
}

func TestScanPreconditions(t *testing.T) {
	pc, _ := newTestContext(t)
	buf := allocBuffer(t, pc, "data", 4*16)
	rec, err := pc.NewRecorder("panics", nil)
	require.NoError(t, err)

	assert.Panics(t, func() { _ = Scan(rec, ScanArgs{Buffer: buf, Length: 6, Blocks: 1}) }, "non power of two")
	assert.Panics(t, func() { _ = Scan(rec, ScanArgs{Buffer: buf, Length: 0, Blocks: 1}) }, "zero length")
	assert.Panics(t, func() { _ = Scan(rec, ScanArgs{Buffer: buf, Length: 8, Blocks: 0}) }, "zero blocks")
	assert.Panics(t, func() { _ = Scan(rec, ScanArgs{Buffer: buf, Length: 32, Blocks: 1}) }, "overflow")
}
