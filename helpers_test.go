package gpuprim

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/internal/refgpu"
)

func newTestContext(t *testing.T, opts ...Option) (*Context, *refgpu.Device) {
	t.Helper()
	dev := refgpu.New()
	pc := New(dev, opts...)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, dev
}

func allocBuffer(t *testing.T, pc *Context, label string, size uint64) *gpucore.Buffer {
	t.Helper()
	scoped, err := pc.AllocDeviceOnly(label, gpucore.BufferUsageScratch, size)
	require.NoError(t, err)
	t.Cleanup(scoped.Release)
	return scoped.Get()
}

func uploadBuffer(t *testing.T, pc *Context, label string, data []byte, size uint64) *gpucore.Buffer {
	t.Helper()
	buf := allocBuffer(t, pc, label, max(size, uint64(len(data))))
	require.NoError(t, pc.WriteBuffer(buf, 0, data))
	return buf
}

func readUint32s(t *testing.T, pc *Context, buf *gpucore.Buffer, first, n uint32) []uint32 {
	t.Helper()
	vals, err := pc.ReadUint32s(context.Background(), buf, first, n)
	require.NoError(t, err)
	return vals
}

func run(t *testing.T, pc *Context, label string, fn func(*Recorder) error) {
	t.Helper()
	require.NoError(t, pc.Run(context.Background(), label, fn))
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func randomUint32s(r *rand.Rand, n int, below uint32) []uint32 {
	vals := make([]uint32, n)
	for i := range vals {
		vals[i] = r.Uint32N(below)
	}
	return vals
}

func readBytes(t *testing.T, pc *Context, buf *gpucore.Buffer, offset, size uint64) []byte {
	t.Helper()
	data, err := pc.ReadBuffer(context.Background(), buf, offset, size)
	require.NoError(t, err)
	return data
}
