package gem

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

func TestCreate_RejectsEmptyObjects(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	_, err := d.Create(0)
	requireIs(t, err, ErrNoMemory)

	_, err = d.Create(-4096)
	requireIs(t, err, ErrNoMemory)
}

func TestCreate_RoundsToPages(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	h, err := d.Create(5000)
	require.NoError(t, err)
	require.NotZero(t, h)

	info := objectInfo(t, d, h)
	require.Equal(t, 8192, info.Size)
	require.False(t, info.Bound)
	require.False(t, info.PagesWired)
	require.Equal(t, driver.DomainCPU, info.ReadDomains)
	require.Equal(t, driver.DomainCPU, info.WriteDomain)
	require.Equal(t, NoFence, info.Fence)
	require.Equal(t, 1, info.RefCount)

	other, err := d.Create(4096)
	require.NoError(t, err)
	require.NotEqual(t, h, other)
}

func TestDestroy_InvalidatesHandle(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	h, err := d.Create(4096)
	require.NoError(t, err)
	require.NoError(t, d.Destroy(h))

	_, err = d.Object(h)
	requireIs(t, err, ErrInvalidHandle)
	requireIs(t, err, ErrInvalidState)

	requireIs(t, d.Destroy(h), ErrInvalidHandle)
	requireIs(t, d.Reference(h), ErrInvalidHandle)
	requireIs(t, d.SetDomain(context.Background(), h, driver.DomainCPU, false), ErrInvalidHandle)
}

func TestDestroy_BoundObjectIsDeferred(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h := createBound(t, d, 4096, false)
	before := d.aperture.SumFreeSize()

	require.NoError(t, d.Destroy(h))

	_, err := d.Object(h)
	requireIs(t, err, ErrInvalidHandle)

	stats := d.Stats()
	require.Equal(t, 1, stats.PendingDestroy)
	require.Zero(t, stats.Objects)
	require.Equal(t, 1, stats.Bound)

	require.NoError(t, d.FreeDeferred(ctx))

	stats = d.Stats()
	require.Zero(t, stats.PendingDestroy)
	require.Zero(t, stats.Bound)
	require.Equal(t, before+4096, d.aperture.SumFreeSize())
	require.NotContains(t, hw.wired, driver.ObjectID(h))
}

func TestCreate_EnforcesObjectLimit(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{MaxObjects: 2})

	first, err := d.Create(4096)
	require.NoError(t, err)
	_, err = d.Create(4096)
	require.NoError(t, err)

	_, err = d.Create(4096)
	requireIs(t, err, ErrNoMemory)

	require.NoError(t, d.Destroy(first))
	_, err = d.Create(4096)
	require.NoError(t, err)
}

func TestReference_KeepsObjectAlive(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	h, err := d.Create(4096)
	require.NoError(t, err)

	require.NoError(t, d.Reference(h))
	require.Equal(t, 2, objectInfo(t, d, h).RefCount)

	require.NoError(t, d.Destroy(h))
	require.Equal(t, 1, objectInfo(t, d, h).RefCount)

	require.NoError(t, d.Unreference(h))
	_, err = d.Object(h)
	requireIs(t, err, ErrInvalidHandle)
}

func TestMadvise_Policies(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h := createBound(t, d, 4096, false)

	retained, err := d.Madvise(h, MadviseDontNeed)
	require.NoError(t, err)
	require.True(t, retained)

	retained, err = d.Madvise(h, MadviseWillNeed)
	require.NoError(t, err)
	require.True(t, retained)

	_, err = d.Madvise(h, MadvisePurged)
	requireIs(t, err, ErrInvalidState)

	_, err = d.Pin(ctx, h, 0, false)
	require.NoError(t, err)
	_, err = d.Madvise(h, MadviseDontNeed)
	requireIs(t, err, ErrInvalidState)
	require.NoError(t, d.Unpin(h))

	// A purgeable object loses its pages for good when it is unbound
	_, err = d.Madvise(h, MadviseDontNeed)
	require.NoError(t, err)
	require.NoError(t, d.Unbind(ctx, h))
	require.Equal(t, []driver.ObjectID{driver.ObjectID(h)}, hw.discarded)

	retained, err = d.Madvise(h, MadviseWillNeed)
	require.NoError(t, err)
	require.False(t, retained)
	require.Equal(t, MadvisePurged, objectInfo(t, d, h).Madvise)
}

func TestCreate_RejectsSizesThatOverflow(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	for _, size := range []int{math.MaxInt, math.MaxInt - 10, maxObjectSize + 1} {
		_, err := d.Create(size)
		requireIs(t, err, ErrNoMemory)
	}
	require.Zero(t, d.Stats().Objects)
}

func TestFenceSize_LargestObjectTerminates(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{Generation: 3})
	ctx := context.Background()

	h, err := d.Create(maxObjectSize)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(ctx, h, TilingX, 512))

	_, err = d.Bind(ctx, h, 0, true)
	requireIs(t, err, ErrInvalidState)

	d.lock.Lock()
	oversized := newObject(0, math.MaxInt&^(4096-1))
	oversized.tiling = TilingX
	size := d.fenceSize(oversized)
	d.lock.Unlock()
	require.Equal(t, maxObjectSize, size)
}

func TestDestroy_ReleasesPinnedBinding(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ApertureSize: 1024 * 1024})
	ctx := context.Background()

	h, err := d.Create(64 * 1024)
	require.NoError(t, err)
	_, err = d.Pin(ctx, h, 0, false)
	require.NoError(t, err)

	require.NoError(t, d.Destroy(h))
	requireIs(t, d.Unpin(h), ErrInvalidHandle)

	require.NoError(t, d.FreeDeferred(ctx))

	stats := d.Stats()
	require.Zero(t, stats.Objects)
	require.Zero(t, stats.PendingDestroy)
	require.Zero(t, stats.Pinned)
	require.Equal(t, 1024*1024, stats.Aperture.FreeBytes())
}

func TestDestroy_ReleasesPinnedFence(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ApertureSize: 1024 * 1024})
	ctx := context.Background()

	h := createTiledHandle(t, d)
	_, err := d.AcquireFence(ctx, h, driver.EngineNone)
	require.NoError(t, err)
	require.NoError(t, d.PinFence(h))

	require.NoError(t, d.Destroy(h))
	require.NoError(t, d.FreeDeferred(ctx))

	stats := d.Stats()
	require.Zero(t, stats.Objects)
	require.Zero(t, stats.FencesUsed)
	require.Zero(t, stats.FencesPinned)
}
