//go:build !nogpu

package halgpu

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuprim/gpucore"
)

func openSoftware(t *testing.T) *Device {
	t.Helper()
	d, err := openBackend(software.API{}, Options{})
	require.NoError(t, err)
	t.Cleanup(d.Destroy)
	return d
}

func u32s(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func scratch(t *testing.T, d *Device, label string, size uint64) *gpucore.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: gpucore.BufferUsageScratch})
	require.NoError(t, err)
	return b
}

func TestOpenSoftware(t *testing.T) {
	d := openSoftware(t)
	info := d.Info()
	assert.Equal(t, "Software Renderer", info.Name)
	assert.Equal(t, "software", info.Backend)
	assert.Equal(t, gpucontext.AdapterTypeSoftware, info.Type)
	assert.Equal(t, gputypes.DefaultLimits().MaxBufferSize, d.Limits().MaxBufferSize)
	assert.False(t, d.External())
}

func TestOpenNoop(t *testing.T) {
	d, err := openBackend(noop.API{}, Options{})
	require.NoError(t, err)
	defer d.Destroy()
	assert.Equal(t, "Noop Adapter", d.Info().Name)

	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "host", Size: 16, Usage: gpucore.BufferUsageCopyDst, HostVisible: true})
	require.NoError(t, err)
	require.NoError(t, d.WriteBuffer(buf, 0, u32s(1, 2, 3, 4)))
	got, err := d.ReadBuffer(context.Background(), buf, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, u32s(2, 3), got)
}

func TestOpenAdapterFilter(t *testing.T) {
	_, err := openBackend(software.API{}, Options{AdapterName: "no such gpu"})
	assert.Error(t, err)

	d, err := openBackend(software.API{}, Options{AdapterName: "software"})
	require.NoError(t, err)
	d.Destroy()
}

func TestWriteReadDeviceLocal(t *testing.T) {
	d := openSoftware(t)
	buf := scratch(t, d, "data", 32)

	require.NoError(t, d.WriteBuffer(buf, 8, u32s(7, 8, 9)))
	got, err := d.ReadBuffer(context.Background(), buf, 0, 32)
	require.NoError(t, err)
	assert.Equal(t, u32s(0, 0, 7, 8, 9, 0, 0, 0), got)

	got, err = d.ReadBuffer(context.Background(), buf, 12, 4)
	require.NoError(t, err)
	assert.Equal(t, u32s(8), got)
}

func TestReadBufferValidation(t *testing.T) {
	d := openSoftware(t)
	buf := scratch(t, d, "data", 16)
	ctx := context.Background()

	_, err := d.ReadBuffer(ctx, buf, 2, 4)
	assert.Error(t, err, "unaligned offset")
	_, err = d.ReadBuffer(ctx, buf, 8, 16)
	assert.Error(t, err, "overflow")
	assert.Error(t, d.WriteBuffer(buf, 12, u32s(1, 2)))

	d.DestroyBuffer(buf)
	_, err = d.ReadBuffer(ctx, buf, 0, 4)
	assert.ErrorIs(t, err, gpucore.ErrUnknownID)

	got, err := d.ReadBuffer(ctx, scratch(t, d, "other", 4), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistentMap(t *testing.T) {
	d := openSoftware(t)
	buf, err := d.CreateBuffer(&gpucore.BufferDesc{
		Label: "params", Size: 16, Usage: gpucore.BufferUsageUniform,
		HostVisible: true, PersistentMap: true,
	})
	require.NoError(t, err)
	require.Len(t, buf.Mapped, 16)

	copy(buf.Mapped, u32s(5, 6, 7, 8))
	got, err := d.ReadBuffer(context.Background(), buf, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, u32s(5, 6, 7, 8), got)

	_, err = d.CreateBuffer(&gpucore.BufferDesc{Label: "bad", Size: 16, PersistentMap: true})
	assert.ErrorIs(t, err, gpucore.ErrNotMappable)
	_, err = d.CreateBuffer(&gpucore.BufferDesc{Label: "empty"})
	assert.Error(t, err)
}

func TestEncoderClearAndCopy(t *testing.T) {
	d := openSoftware(t)
	src := scratch(t, d, "src", 16)
	dst := scratch(t, d, "dst", 16)
	require.NoError(t, d.WriteBuffer(src, 0, u32s(1, 2, 3, 4)))

	enc, err := d.CreateCommandEncoder("clear copy")
	require.NoError(t, err)
	enc.ClearBuffer(src, 4, 8)
	enc.Barrier(src)
	enc.CopyBufferToBuffer(src, 0, dst, 0, 16)
	enc.Barrier()
	cmd, err := enc.Finish()
	require.NoError(t, err)
	assert.Equal(t, "clear copy", cmd.Label())

	idx, err := d.Submit(cmd)
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), idx))
	assert.GreaterOrEqual(t, d.Completed(), idx)

	got, err := d.ReadBuffer(context.Background(), dst, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, u32s(1, 0, 0, 4), got)

	_, err = d.Submit(cmd)
	assert.Error(t, err, "double submit")
}

func TestEncoderErrors(t *testing.T) {
	d := openSoftware(t)
	buf := scratch(t, d, "buf", 16)

	tests := []struct {
		name   string
		record func(gpucore.CommandEncoder)
		is     error
	}{
		{"dispatch without pipeline", func(e gpucore.CommandEncoder) { e.Dispatch(1, 1, 1) }, nil},
		{"unknown pipeline", func(e gpucore.CommandEncoder) { e.SetPipeline(999) }, gpucore.ErrUnknownID},
		{"unknown bind group", func(e gpucore.CommandEncoder) { e.SetBindGroup(0, 999) }, gpucore.ErrUnknownID},
		{"bind group index", func(e gpucore.CommandEncoder) { e.SetBindGroup(maxBindGroups, 1) }, nil},
		{"unaligned clear", func(e gpucore.CommandEncoder) { e.ClearBuffer(buf, 2, 4) }, nil},
		{"clear overflow", func(e gpucore.CommandEncoder) { e.ClearBuffer(buf, 8, 16) }, nil},
		{"overlapping copy", func(e gpucore.CommandEncoder) { e.CopyBufferToBuffer(buf, 0, buf, 4, 8) }, nil},
		{"unknown barrier buffer", func(e gpucore.CommandEncoder) { e.Barrier(&gpucore.Buffer{ID: 999}) }, gpucore.ErrUnknownID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := d.CreateCommandEncoder(tt.name)
			require.NoError(t, err)
			tt.record(enc)
			_, err = enc.Finish()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestEncoderFinishTwice(t *testing.T) {
	d := openSoftware(t)
	enc, err := d.CreateCommandEncoder("twice")
	require.NoError(t, err)
	_, err = enc.Finish()
	require.NoError(t, err)
	_, err = enc.Finish()
	assert.ErrorIs(t, err, gpucore.ErrEncoderFinished)

	enc, err = d.CreateCommandEncoder("discarded")
	require.NoError(t, err)
	enc.Discard()
	enc.Discard()
	_, err = enc.Finish()
	assert.ErrorIs(t, err, gpucore.ErrEncoderFinished)
}

func TestSubmitForeign(t *testing.T) {
	a := openSoftware(t)
	b := openSoftware(t)
	enc, err := a.CreateCommandEncoder("a")
	require.NoError(t, err)
	cmd, err := enc.Finish()
	require.NoError(t, err)
	_, err = b.Submit(cmd)
	assert.Error(t, err)
}

func TestBindGroupValidation(t *testing.T) {
	d := openSoftware(t)
	buf := scratch(t, d, "buf", 64)
	layout, err := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "two",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
			{Binding: 1, Type: gpucore.BindingTypeStorageBuffer},
		},
	})
	require.NoError(t, err)

	_, err = d.CreateBindGroup(&gpucore.BindGroupDesc{Label: "short", Layout: layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: buf}}})
	assert.Error(t, err)

	_, err = d.CreateBindGroup(&gpucore.BindGroupDesc{Label: "overflow", Layout: layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: buf}, {Binding: 1, Buffer: buf, Offset: 32, Size: 64}}})
	assert.Error(t, err)

	_, err = d.CreateBindGroup(&gpucore.BindGroupDesc{Label: "no layout", Layout: 999})
	assert.ErrorIs(t, err, gpucore.ErrUnknownID)

	g, err := d.CreateBindGroup(&gpucore.BindGroupDesc{Label: "ok", Layout: layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: buf, Size: 32}, {Binding: 1, Buffer: buf, Offset: 32}}})
	require.NoError(t, err)

	enc, err := d.CreateCommandEncoder("bind")
	require.NoError(t, err)
	enc.SetBindGroup(0, g)
	e := enc.(*encoder)
	assert.Len(t, e.touched, 1)
	enc.Discard()

	d.DestroyBindGroup(g)
	d.DestroyBindGroupLayout(layout)

	_, err = d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Entries: []gpucore.BindGroupLayoutEntry{{Binding: 0, Type: gpucore.BindingType(42)}},
	})
	assert.Error(t, err)
}

func TestDestroyReleasesEverything(t *testing.T) {
	d, err := openBackend(software.API{}, Options{})
	require.NoError(t, err)
	scratch(t, d, "a", 16)
	scratch(t, d, "b", 16)
	assert.Equal(t, 2, d.LiveBuffers())

	d.Destroy()
	assert.Zero(t, d.LiveBuffers())
	d.Destroy()
}

type fakeProvider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p fakeProvider) HalDevice() any { return p.dev }
func (p fakeProvider) HalQueue() any  { return p.queue }
func (p fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "host gpu", Type: gpucontext.AdapterTypeDiscrete}
}

func TestFromProvider(t *testing.T) {
	inst, err := software.API{}.CreateInstance(&hal.InstanceDescriptor{})
	require.NoError(t, err)
	open, err := inst.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)

	d, err := FromProvider(fakeProvider{dev: open.Device, queue: open.Queue})
	require.NoError(t, err)
	assert.True(t, d.External())
	assert.Equal(t, "host gpu", d.Info().Name)
	assert.Equal(t, gpucontext.AdapterTypeDiscrete, d.Info().Type)

	buf := scratch(t, d, "shared", 8)
	require.NoError(t, d.WriteBuffer(buf, 0, u32s(3, 4)))
	got, err := d.ReadBuffer(context.Background(), buf, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, u32s(3, 4), got)
	d.Destroy()
	assert.Zero(t, d.LiveBuffers())

	_, err = FromProvider(struct{}{})
	assert.Error(t, err)
	_, err = FromProvider(fakeProvider{})
	assert.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in   string
		want gputypes.Backend
	}{
		{"vulkan", gputypes.BackendVulkan},
		{"Metal", gputypes.BackendMetal},
		{"dx12", gputypes.BackendDX12},
		{" gles ", gputypes.BackendGL},
		{"noop", gputypes.BackendEmpty},
		{"software", gputypes.BackendEmpty},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseBackend(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseBackend("reference"); err == nil {
		t.Error("ParseBackend(reference) should fail")
	}
	if got := BackendName(gputypes.BackendVulkan); got != "vulkan" {
		t.Errorf("BackendName(Vulkan) = %q, want %q", got, "vulkan")
	}
}

func TestRankAdapters(t *testing.T) {
	adapter := func(name string, typ gputypes.DeviceType) hal.ExposedAdapter {
		return hal.ExposedAdapter{Info: gputypes.AdapterInfo{Name: name, DeviceType: typ}}
	}
	all := []hal.ExposedAdapter{
		adapter("llvmpipe", gputypes.DeviceTypeCPU),
		adapter("Intel UHD", gputypes.DeviceTypeIntegratedGPU),
		adapter("NVIDIA RTX", gputypes.DeviceTypeDiscreteGPU),
	}
	names := func(as []hal.ExposedAdapter) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.Info.Name)
		}
		return out
	}

	assert.Equal(t, []string{"NVIDIA RTX", "Intel UHD", "llvmpipe"},
		names(rankAdapters(all, Options{PowerPreference: gputypes.PowerPreferenceHighPerformance})))
	assert.Equal(t, []string{"Intel UHD", "NVIDIA RTX", "llvmpipe"},
		names(rankAdapters(all, Options{PowerPreference: gputypes.PowerPreferenceLowPower})))
	assert.Equal(t, []string{"Intel UHD"}, names(rankAdapters(all, Options{AdapterName: "intel"})))
	assert.Equal(t, "llvmpipe", all[0].Info.Name, "input order is untouched")
}

func TestSetLoggerReachesHAL(t *testing.T) {
	d := openSoftware(t)
	defer d.SetLogger(nil)

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.SetLogger(l)
	assert.Same(t, l, slogger())
	assert.Same(t, l, hal.Logger())

	d.SetLogger(nil)
	assert.False(t, slogger().Enabled(context.Background(), 0))
}
