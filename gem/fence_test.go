package gem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

func createTiled(t *testing.T, d *Device, size int, mode Tiling, stride int) Handle {
	t.Helper()

	h, err := d.Create(size)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(context.Background(), h, mode, stride))

	_, err = d.Bind(context.Background(), h, 0, true)
	require.NoError(t, err)
	return h
}

func TestFence_Gen6Encoding(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{Generation: 6})

	h := createTiled(t, d, 64*1024, TilingX, 1024)

	slot, err := d.AcquireFence(context.Background(), h, driver.EngineNone)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	info := objectInfo(t, d, h)
	require.Equal(t, 0, info.Fence)

	start := uint64(info.Offset)
	end := uint64(info.Offset + info.BoundSize)
	expected := ((end-4096)&0xfffff000)<<32 | start | uint64(1024/128-1)<<32 | 1

	write := hw.lastFenceWrite()
	require.Equal(t, 0, write.slot)
	require.False(t, write.pipelined)
	require.Equal(t, uint32(0x100000), write.value.Register)
	require.Equal(t, expected, write.value.Value)
}

func TestFence_Gen4Encoding(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{Generation: 4})

	first := createTiledHandle(t, d)
	h := createTiled(t, d, 16*1024, TilingY, 256)

	_, err := d.AcquireFence(context.Background(), first, driver.EngineNone)
	require.NoError(t, err)
	slot, err := d.AcquireFence(context.Background(), h, driver.EngineNone)
	require.NoError(t, err)
	require.Equal(t, 1, slot)

	info := objectInfo(t, d, h)
	start := uint64(info.Offset)
	end := uint64(info.Offset + info.BoundSize)
	expected := ((end-4096)&0xfffff000)<<32 | start | uint64(256/128-1)<<2 | 1<<1 | 1

	write := hw.lastFenceWrite()
	require.Equal(t, 1, write.slot)
	require.Equal(t, uint32(0x3008), write.value.Register)
	require.Equal(t, expected, write.value.Value)
}

// createTiledHandle is a small X-tiled, mappable object
func createTiledHandle(t *testing.T, d *Device) Handle {
	t.Helper()
	return createTiled(t, d, 4096, TilingX, 512)
}

func TestFence_Gen3Encoding(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{Generation: 3})

	h := createTiled(t, d, 512*1024, TilingX, 2048)

	info := objectInfo(t, d, h)
	require.Equal(t, 1024*1024, info.BoundSize)
	require.Zero(t, info.Offset%(1024*1024))
	require.True(t, info.Fenceable)

	_, err := d.AcquireFence(context.Background(), h, driver.EngineNone)
	require.NoError(t, err)

	// Size is 1MiB << 0, pitch is 512 << 2
	expected := uint64(info.Offset) | 0<<8 | 2<<4 | 1

	write := hw.lastFenceWrite()
	require.Equal(t, uint32(0x2000), write.value.Register)
	require.Equal(t, expected, write.value.Value)
}

func TestFence_Gen2Encoding(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{Generation: 2})

	h := createTiled(t, d, 4096, TilingY, 256)

	info := objectInfo(t, d, h)
	require.Equal(t, 512*1024, info.BoundSize)
	require.Zero(t, info.Offset%(512*1024))

	_, err := d.AcquireFence(context.Background(), h, driver.EngineNone)
	require.NoError(t, err)

	// Y tiling, size 512KiB << 0, pitch 128 << 1
	expected := uint64(info.Offset) | 1<<12 | 0<<8 | 1<<4 | 1

	write := hw.lastFenceWrite()
	require.Equal(t, uint32(0x2000), write.value.Register)
	require.Equal(t, expected, write.value.Value)
}

func TestFence_RegisterOffsets(t *testing.T) {
	testCases := []struct {
		generation int
		slot       int
		register   uint32
	}{
		{generation: 6, slot: 0, register: 0x100000},
		{generation: 6, slot: 15, register: 0x100078},
		{generation: 5, slot: 2, register: 0x3010},
		{generation: 4, slot: 15, register: 0x3078},
		{generation: 3, slot: 3, register: 0x200c},
		{generation: 3, slot: 8, register: 0x3000},
		{generation: 3, slot: 9, register: 0x3004},
		{generation: 2, slot: 7, register: 0x201c},
	}

	for _, testCase := range testCases {
		d := &Device{generation: testCase.generation}
		require.Equal(t, testCase.register, d.fenceRegisterOffset(testCase.slot), "gen%d slot %d", testCase.generation, testCase.slot)
	}
}

func TestFence_NewDeviceRejectsTooManyFences(t *testing.T) {
	_, err := New(newFakeHardware(), CreateOptions{
		Generation: 2,
		FenceCount: 16,
		Flags:      DeviceCreateNoRetireWorker,
	})
	require.Error(t, err)
}

func TestFence_StealsLeastRecentlyUsed(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{FenceCount: 2})
	ctx := context.Background()

	a := createTiledHandle(t, d)
	b := createTiledHandle(t, d)
	c := createTiledHandle(t, d)

	slotA, err := d.AcquireFence(ctx, a, driver.EngineNone)
	require.NoError(t, err)
	slotB, err := d.AcquireFence(ctx, b, driver.EngineNone)
	require.NoError(t, err)
	require.NotEqual(t, slotA, slotB)

	// Touching A leaves B as the least recently used
	again, err := d.AcquireFence(ctx, a, driver.EngineNone)
	require.NoError(t, err)
	require.Equal(t, slotA, again)

	slotC, err := d.AcquireFence(ctx, c, driver.EngineNone)
	require.NoError(t, err)
	require.Equal(t, slotB, slotC)

	require.Equal(t, slotA, objectInfo(t, d, a).Fence)
	require.Equal(t, NoFence, objectInfo(t, d, b).Fence)
	require.Equal(t, slotC, objectInfo(t, d, c).Fence)
	require.Equal(t, slotC, hw.lastFenceWrite().slot)
}

func TestFence_StealFlushesGTTWrites(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{FenceCount: 1})
	ctx := context.Background()

	a := createTiledHandle(t, d)
	b := createTiledHandle(t, d)

	_, err := d.AcquireFence(ctx, a, driver.EngineNone)
	require.NoError(t, err)
	_, err = d.Fault(ctx, a, 0, true)
	require.NoError(t, err)
	require.Equal(t, driver.DomainGTT, objectInfo(t, d, a).WriteDomain)

	_, err = d.AcquireFence(ctx, b, driver.EngineNone)
	require.NoError(t, err)

	info := objectInfo(t, d, a)
	require.Equal(t, NoFence, info.Fence)
	require.Equal(t, driver.Domains(0), info.WriteDomain)
	require.Equal(t, []driver.ObjectID{driver.ObjectID(a)}, hw.revoked)
}

func TestFence_AllPinnedIsBusy(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{FenceCount: 1})
	ctx := context.Background()

	a := createTiledHandle(t, d)
	b := createTiledHandle(t, d)

	_, err := d.AcquireFence(ctx, a, driver.EngineNone)
	require.NoError(t, err)
	require.NoError(t, d.PinFence(a))

	_, err = d.AcquireFence(ctx, b, driver.EngineNone)
	requireIs(t, err, ErrBusy)

	// A pinned fence also keeps its object bound
	err = d.Unbind(ctx, a)
	requireIs(t, err, ErrBusy)

	require.NoError(t, d.UnpinFence(a))
	requireIs(t, d.UnpinFence(a), ErrInvalidState)

	slot, err := d.AcquireFence(ctx, b, driver.EngineNone)
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.Equal(t, NoFence, objectInfo(t, d, a).Fence)
}

func TestFence_RequiresTiledFenceableBinding(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})
	ctx := context.Background()

	linear := createBound(t, d, 4096, true)
	_, err := d.AcquireFence(ctx, linear, driver.EngineNone)
	requireIs(t, err, ErrInvalidState)

	unbound, err := d.Create(4096)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(ctx, unbound, TilingX, 512))
	_, err = d.AcquireFence(ctx, unbound, driver.EngineNone)
	requireIs(t, err, ErrInvalidState)

	requireIs(t, d.PinFence(unbound), ErrInvalidState)

	_, err = d.AcquireFence(ctx, unbound, driver.EngineID(9))
	requireIs(t, err, ErrInvalidState)
}

func TestFence_PipelinedWriteQueuesBehindRendering(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h := createTiledHandle(t, d)
	makeActive(t, d, h, driver.EngineRender)

	pending, err := d.NextSeqno(driver.EngineRender)
	require.NoError(t, err)

	slot, err := d.AcquireFence(ctx, h, driver.EngineRender)
	require.NoError(t, err)

	write := hw.lastFenceWrite()
	require.True(t, write.pipelined)
	require.Equal(t, driver.EngineRender, write.engine)
	require.Equal(t, slot, write.slot)

	info := objectInfo(t, d, h)
	require.True(t, info.Active)
	require.Equal(t, pending, info.LastSeqno)

	// Releasing the register has to wait for the queued write to land
	hw.setAutoComplete(true)
	require.NoError(t, d.ReleaseFence(ctx, h))

	write = hw.lastFenceWrite()
	require.False(t, write.pipelined)
	require.Equal(t, slot, write.slot)
	require.Zero(t, write.value.Value)
	require.Equal(t, NoFence, objectInfo(t, d, h).Fence)
}

func TestFence_PipelinedOnIdleObjectWritesImmediately(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})

	h := createTiledHandle(t, d)

	_, err := d.AcquireFence(context.Background(), h, driver.EngineBSD)
	require.NoError(t, err)
	require.False(t, hw.lastFenceWrite().pipelined)
	require.False(t, objectInfo(t, d, h).Active)
}

func TestFence_Gen3StealWaitsForRendering(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{Generation: 3, FenceCount: 1, ApertureSize: 4 * 1024 * 1024})
	ctx := context.Background()

	a := createTiled(t, d, 4096, TilingX, 512)
	b := createTiled(t, d, 4096, TilingX, 512)

	_, err := d.AcquireFence(ctx, a, driver.EngineNone)
	require.NoError(t, err)
	makeActive(t, d, a, driver.EngineRender)

	hw.setAutoComplete(true)
	hw.complete(driver.EngineRender, objectInfo(t, d, a).LastSeqno)

	_, err = d.AcquireFence(ctx, b, driver.EngineNone)
	require.NoError(t, err)

	require.False(t, objectInfo(t, d, a).Active)
	require.Equal(t, NoFence, objectInfo(t, d, a).Fence)
}

func TestSetTiling_ValidatesStride(t *testing.T) {
	ctx := context.Background()

	gen4 := newTestDevice(t, newFakeHardware(), CreateOptions{Generation: 4})
	h, err := gen4.Create(4096)
	require.NoError(t, err)

	requireIs(t, gen4.SetTiling(ctx, h, TilingX, 0), ErrInvalidState)
	requireIs(t, gen4.SetTiling(ctx, h, TilingX, 100), ErrInvalidState)
	requireIs(t, gen4.SetTiling(ctx, h, TilingX, 256*1024+512), ErrInvalidState)
	requireIs(t, gen4.SetTiling(ctx, h, Tiling(7), 512), ErrInvalidState)
	require.NoError(t, gen4.SetTiling(ctx, h, TilingY, 384))
	require.NoError(t, gen4.SetTiling(ctx, h, TilingX, 3*512))

	gen3 := newTestDevice(t, newFakeHardware(), CreateOptions{Generation: 3})
	h, err = gen3.Create(4096)
	require.NoError(t, err)

	requireIs(t, gen3.SetTiling(ctx, h, TilingX, 3*512), ErrInvalidState)
	requireIs(t, gen3.SetTiling(ctx, h, TilingX, 16384), ErrInvalidState)
	require.NoError(t, gen3.SetTiling(ctx, h, TilingX, 8192))

	require.NoError(t, gen3.SetTiling(ctx, h, TilingNone, 12345))
	info, err := gen3.Object(h)
	require.NoError(t, err)
	require.Equal(t, TilingNone, info.Tiling)
	require.Zero(t, info.Stride)
}

func TestSetTiling_PinnedIsBusy(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})
	ctx := context.Background()

	h, err := d.Create(4096)
	require.NoError(t, err)
	_, err = d.Pin(ctx, h, 0, true)
	require.NoError(t, err)

	requireIs(t, d.SetTiling(ctx, h, TilingX, 512), ErrBusy)
	require.NoError(t, d.Unpin(h))
}

func TestSetTiling_ReleasesFence(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h := createTiledHandle(t, d)
	slot, err := d.AcquireFence(ctx, h, driver.EngineNone)
	require.NoError(t, err)

	require.NoError(t, d.SetTiling(ctx, h, TilingY, 128))

	info := objectInfo(t, d, h)
	require.Equal(t, NoFence, info.Fence)
	require.Equal(t, TilingY, info.Tiling)
	require.True(t, info.Bound)

	write := hw.lastFenceWrite()
	require.Equal(t, slot, write.slot)
	require.Zero(t, write.value.Value)
}

func TestSetTiling_UnbindsUnfenceableMapping(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{Generation: 3})
	ctx := context.Background()

	h := createBound(t, d, 512*1024, true)
	require.True(t, objectInfo(t, d, h).Fenceable)

	// A tiled gen3 object needs a 1MiB fence, which its 512KiB binding cannot provide
	require.NoError(t, d.SetTiling(ctx, h, TilingX, 512))
	require.False(t, objectInfo(t, d, h).Bound)

	_, err := d.Bind(ctx, h, 0, true)
	require.NoError(t, err)

	info := objectInfo(t, d, h)
	require.Equal(t, 1024*1024, info.BoundSize)
	require.True(t, info.Fenceable)
}

func TestSetCacheLevel_RewritesEntries(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h := createBound(t, d, 4096, false)
	require.Equal(t, 1, hw.inserted)

	require.NoError(t, d.SetCacheLevel(ctx, h, driver.CacheLevelLLC))
	require.Equal(t, 2, hw.inserted)

	info := objectInfo(t, d, h)
	require.True(t, info.Bound)
	require.Equal(t, driver.CacheLevelLLC, info.CacheLevel)

	requireIs(t, d.SetCacheLevel(ctx, h, driver.CacheLevel(5)), ErrInvalidState)
}

func TestSetCacheLevel_ColoringUnbinds(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ColorGranularity: 64 * 1024})
	ctx := context.Background()

	h := createBound(t, d, 4096, false)
	require.NoError(t, d.SetCacheLevel(ctx, h, driver.CacheLevelLLC))

	info := objectInfo(t, d, h)
	require.False(t, info.Bound)
	require.Equal(t, driver.CacheLevelLLC, info.CacheLevel)
}
