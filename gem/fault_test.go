package gem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

func TestFault_ReturnsAperturePage(t *testing.T) {
	const base = 0x10000000

	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{ApertureBase: base})

	h, err := d.Create(8192)
	require.NoError(t, err)

	page, err := d.Fault(context.Background(), h, 4100, false)
	require.NoError(t, err)

	info := objectInfo(t, d, h)
	require.True(t, info.Bound)
	require.True(t, info.Mappable)
	require.Equal(t, driver.Page((base+info.Offset+4096)/4096), page)
	require.NotZero(t, info.ReadDomains&driver.DomainGTT)
	require.Equal(t, driver.Domains(0), info.WriteDomain)
}

func TestFault_WriteOwnsGTTDomain(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})

	h, err := d.Create(4096)
	require.NoError(t, err)

	_, err = d.Fault(context.Background(), h, 0, true)
	require.NoError(t, err)

	info := objectInfo(t, d, h)
	require.Equal(t, driver.DomainGTT, info.WriteDomain)
	require.Equal(t, driver.DomainGTT, info.ReadDomains)
}

func TestFault_UnbindRevokesMapping(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h, err := d.Create(4096)
	require.NoError(t, err)

	_, err = d.Fault(ctx, h, 0, false)
	require.NoError(t, err)
	require.Empty(t, hw.revoked)

	require.NoError(t, d.Unbind(ctx, h))
	require.Equal(t, []driver.ObjectID{driver.ObjectID(h)}, hw.revoked)

	// Nothing left to revoke the second time around
	_, err = d.Bind(ctx, h, 0, false)
	require.NoError(t, err)
	require.NoError(t, d.Unbind(ctx, h))
	require.Len(t, hw.revoked, 1)
}

func TestFault_TiledObjectAcquiresFence(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{})
	ctx := context.Background()

	h, err := d.Create(4096)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(ctx, h, TilingX, 512))

	_, err = d.Fault(ctx, h, 0, true)
	require.NoError(t, err)

	info := objectInfo(t, d, h)
	require.NotEqual(t, NoFence, info.Fence)
	require.Equal(t, info.Fence, hw.lastFenceWrite().slot)
}

func TestFault_TiledObjectWithoutFences(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{FenceCount: 1})
	ctx := context.Background()

	holder, err := d.Create(4096)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(ctx, holder, TilingX, 512))
	_, err = d.Fault(ctx, holder, 0, false)
	require.NoError(t, err)
	require.NoError(t, d.PinFence(holder))

	h, err := d.Create(4096)
	require.NoError(t, err)
	require.NoError(t, d.SetTiling(ctx, h, TilingX, 512))

	_, err = d.Fault(ctx, h, 0, false)
	requireIs(t, err, ErrBusy)

	require.NoError(t, d.UnpinFence(holder))
	_, err = d.Fault(ctx, h, 0, false)
	require.NoError(t, err)
}

func TestFault_OutOfRange(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{})
	ctx := context.Background()

	h, err := d.Create(4096)
	require.NoError(t, err)

	_, err = d.Fault(ctx, h, 4096, false)
	requireIs(t, err, ErrInvalidState)

	_, err = d.Fault(ctx, h, -1, false)
	requireIs(t, err, ErrInvalidState)

	_, err = d.Fault(ctx, Handle(999), 0, false)
	requireIs(t, err, ErrInvalidHandle)

	require.False(t, objectInfo(t, d, h).Bound)
}
