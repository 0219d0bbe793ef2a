package gpuprim

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceSumConcrete(t *testing.T) {
	pc, _ := newTestContext(t)
	buf := uploadBuffer(t, pc, "data", EncodeUint32s([]uint32{5, 3, 8, 1, 2, 9, 4, 7}), 0)

	args := ReduceArgs{Op: ReduceAdd, Elem: ElemU32, Buffer: buf, Length: 8, Blocks: 1}
	run(t, pc, "reduce", func(rec *Recorder) error { return Reduce(rec, args) })

	assert.Equal(t, uint32(7), ReduceResultIndex(args, 0))
	assert.Equal(t, []uint32{39}, readUint32s(t, pc, buf, 7, 1))
}

func TestReduceU32(t *testing.T) {
	r := testRand()
	for _, n := range []int{1, 2, 3, 255, 256, 257, 1000, 4096, 70000} {
		for _, op := range []ReduceOp{ReduceAdd, ReduceMin, ReduceMax} {
			t.Run(fmt.Sprintf("%s/%d", op, n), func(t *testing.T) {
				pc, _ := newTestContext(t)
				vals := randomUint32s(r, n, 1<<20)
				p := NextPow2(uint32(n))
				buf := uploadBuffer(t, pc, "data", EncodeUint32s(vals), 4*uint64(p))

				args := ReduceArgs{Op: op, Elem: ElemU32, Buffer: buf, Length: uint32(n), Blocks: 1}
				run(t, pc, "reduce", func(rec *Recorder) error { return Reduce(rec, args) })

				want := vals[0]
				for _, v := range vals[1:] {
					switch op {
					case ReduceAdd:
						want += v
					case ReduceMin:
						want = min(want, v)
					case ReduceMax:
						want = max(want, v)
					}
				}
				got := readUint32s(t, pc, buf, ReduceResultIndex(args, 0), 1)
				assert.Equal(t, want, got[0])
			})
		}
	}
}

func TestReduceBlocks(t *testing.T) {
	pc, _ := newTestContext(t)
	const blocks, length, stride = 16, 64, 64
	vals := make([]uint32, blocks*stride)
	for b := 0; b < blocks; b++ {
		for i := 0; i < length; i++ {
			vals[b*stride+i] = uint32(b + 1)
		}
	}
	buf := uploadBuffer(t, pc, "hist", EncodeUint32s(vals), 0)
	args := ReduceArgs{Op: ReduceAdd, Elem: ElemU32, Buffer: buf, Length: length, Blocks: blocks, BlockStride: stride}
	run(t, pc, "reduce blocks", func(rec *Recorder) error { return Reduce(rec, args) })

	for b := uint32(0); b < blocks; b++ {
		got := readUint32s(t, pc, buf, ReduceResultIndex(args, b), 1)
		assert.Equal(t, (b+1)*length, got[0], "block %d", b)
	}
}

func TestReduceVec4MinMax(t *testing.T) {
	pc, _ := newTestContext(t)
	r := testRand()
	const n = 300
	p := NextPow2(n)
	pos := make([][3]float32, n)
	lo := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for i := range pos {
		for a := 0; a < 3; a++ {
			pos[i][a] = r.Float32()*20 - 10
			lo[a] = min(lo[a], pos[i][a])
			hi[a] = max(hi[a], pos[i][a])
		}
	}
	data := EncodePositions(pos)
	maxBuf := uploadBuffer(t, pc, "max", data, 16*uint64(p))
	minBuf := uploadBuffer(t, pc, "min", data, 16*uint64(p))

	maxArgs := ReduceArgs{Op: ReduceMax, Elem: ElemVec4, Buffer: maxBuf, Length: n, Blocks: 1}
	minArgs := ReduceArgs{Op: ReduceMin, Elem: ElemVec4, Buffer: minBuf, Length: n, Blocks: 1}
	run(t, pc, "bounds", func(rec *Recorder) error {
		if err := Reduce(rec, maxArgs); err != nil {
			return err
		}
		return Reduce(rec, minArgs)
	})

	readVec := func(buf []byte) [4]float32 {
		var v [4]float32
		for c := range v {
			v[c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*c:]))
		}
		return v
	}
	gotMax := readVec(readBytes(t, pc, maxBuf, 16*uint64(ReduceResultIndex(maxArgs, 0)), 16))
	gotMin := readVec(readBytes(t, pc, minBuf, 16*uint64(ReduceResultIndex(minArgs, 0)), 16))
	for a := 0; a < 3; a++ {
		assert.Equal(t, hi[a], gotMax[a], "max axis %d", a)
		assert.Equal(t, lo[a], gotMin[a], "min axis %d", a)
	}
	assert.Equal(t, float32(1), gotMax[3])
	assert.Equal(t, float32(1), gotMin[3])
}

func TestReducePreconditions(t *testing.T) {
	pc, _ := newTestContext(t)
	buf := allocBuffer(t, pc, "small", 16)
	rec, err := pc.NewRecorder("panics", nil)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = Reduce(rec, ReduceArgs{Buffer: buf, Length: 0, Blocks: 1})
	}, "zero length")
	assert.Panics(t, func() {
		_ = Reduce(rec, ReduceArgs{Buffer: buf, Length: 4, Blocks: 0})
	}, "zero blocks")
	assert.Panics(t, func() {
		_ = Reduce(rec, ReduceArgs{Buffer: buf, Length: 5, Blocks: 1})
	}, "padded length overflows the buffer")
	assert.Panics(t, func() {
		_ = Reduce(rec, ReduceArgs{Elem: ElemVec4, Buffer: buf, Length: 2, Blocks: 1})
	}, "vec4 elements overflow the buffer")
}
