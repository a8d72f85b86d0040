package gem

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

func TestStats_CountsBookkeeping(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ApertureSize: 1024 * 1024})
	ctx := context.Background()

	createBound(t, d, 4096, false)
	busy := createBound(t, d, 8192, false)
	makeActive(t, d, busy, driver.EngineBSD)

	pinned, err := d.Create(4096)
	require.NoError(t, err)
	_, err = d.Pin(ctx, pinned, 0, false)
	require.NoError(t, err)

	_, err = d.Create(4096)
	require.NoError(t, err)

	tiled := createTiledHandle(t, d)
	_, err = d.AcquireFence(ctx, tiled, driver.EngineNone)
	require.NoError(t, err)
	require.NoError(t, d.PinFence(tiled))

	stats := d.Stats()
	require.Equal(t, 5, stats.Objects)
	require.Equal(t, 4096*4+8192, stats.ObjectBytes)
	require.Equal(t, 4, stats.Bound)
	require.Equal(t, 4096*3+8192, stats.BoundBytes)
	require.Equal(t, 1, stats.Active)
	require.Equal(t, 2, stats.Inactive)
	require.Equal(t, 1, stats.Pinned)
	require.Equal(t, 4096, stats.PinnedBytes)
	require.Equal(t, 1, stats.FencesUsed)
	require.Equal(t, 1, stats.FencesPinned)
	require.Equal(t, 4, stats.Aperture.Statistics.AllocationCount)
	require.Equal(t, 4096*3+8192, stats.Aperture.Statistics.AllocationBytes)
	require.Equal(t, 1024*1024-(4096*3+8192), stats.Aperture.FreeBytes())
	require.False(t, stats.Wedged)

	require.NoError(t, d.UnpinFence(tiled))
	require.NoError(t, d.Unpin(pinned))
}

func TestBuildStatsString_IsValidJSON(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ApertureSize: 1024 * 1024})
	ctx := context.Background()

	createBound(t, d, 4096, false)
	busy := createBound(t, d, 4096, true)
	makeActive(t, d, busy, driver.EngineRender)

	tiled := createTiledHandle(t, d)
	_, err := d.AcquireFence(ctx, tiled, driver.EngineNone)
	require.NoError(t, err)

	for _, detailed := range []bool{false, true} {
		str := d.BuildStatsString(detailed)
		require.True(t, json.Valid([]byte(str)), str)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(str), &decoded))

		objects := decoded["Objects"].(map[string]any)
		require.Equal(t, float64(3), objects["Count"])
		require.Equal(t, float64(1), objects["Active"])

		aperture := decoded["Aperture"].(map[string]any)
		require.Equal(t, float64(1024*1024-3*4096), aperture["FreeBytes"])
		_, hasRegions := aperture["Regions"]
		require.Equal(t, detailed, hasRegions)

		fences := decoded["Fences"].(map[string]any)
		require.Equal(t, float64(1), fences["Used"])

		engines := decoded["Engines"].([]any)
		require.Len(t, engines, 3)
	}
}
