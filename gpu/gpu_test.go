//go:build !nogpu

package gpu_test

import (
	"context"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuprim"
	"github.com/gogpu/gpuprim/gpu"
	"github.com/gogpu/gpuprim/gpucore"
)

func TestOpenEmptyBackend(t *testing.T) {
	dev, err := gpu.Open(gpu.Options{Backends: []gputypes.Backend{gputypes.BackendEmpty}})
	require.NoError(t, err)
	defer dev.Destroy()
	assert.Equal(t, "software", dev.Info().Backend)
	assert.False(t, dev.External())

	pc := gpuprim.New(dev)
	defer pc.Close()
	buf, err := pc.AllocHostVisible("host", gpucore.BufferUsageCopyDst, 16, false)
	require.NoError(t, err)
	defer buf.Release()

	require.NoError(t, pc.WriteBuffer(buf.Get(), 0, gpuprim.EncodeUint32s([]uint32{4, 3, 2, 1})))
	got, err := pc.ReadUint32s(context.Background(), buf.Get(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 2}, got)
}

func TestOpenUnavailableAdapter(t *testing.T) {
	_, err := gpu.Open(gpu.Options{
		Backends:    []gputypes.Backend{gputypes.BackendEmpty},
		AdapterName: "no such adapter anywhere",
	})
	assert.ErrorIs(t, err, gpu.ErrNoAdapter)
}

func TestParseBackendRoundTrip(t *testing.T) {
	for _, name := range []string{"vulkan", "metal", "dx12", "gl", "software"} {
		b, err := gpu.ParseBackend(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, gpu.BackendName(b))
	}
	_, err := gpu.ParseBackend("glide")
	assert.Error(t, err)
}
