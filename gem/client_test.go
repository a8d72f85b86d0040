package gem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

func TestThrottle_RecentRequestsDoNotBlock(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ThrottleWindow: time.Hour})

	client := d.OpenClient()
	defer client.Close()

	_, err := d.SubmitRequest(driver.EngineRender, client)
	require.NoError(t, err)

	require.NoError(t, d.Throttle(context.Background(), client))
}

func TestThrottle_WaitsForOldRequests(t *testing.T) {
	hw := newFakeHardware()
	d := newTestDevice(t, hw, CreateOptions{ThrottleWindow: time.Nanosecond})

	client := d.OpenClient()
	defer client.Close()

	req, err := d.SubmitRequest(driver.EngineBLT, client)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	requireIs(t, d.Throttle(ctx, client), ErrInterrupted)

	hw.complete(driver.EngineBLT, req.Seqno())
	require.NoError(t, d.Throttle(context.Background(), client))

	// Retirement forgets the request
	require.Equal(t, 0, client.requests.Len())
}

func TestClient_CloseDetachesRequests(t *testing.T) {
	d := newTestDevice(t, newFakeHardware(), CreateOptions{ThrottleWindow: time.Nanosecond})

	client := d.OpenClient()
	_, err := d.SubmitRequest(driver.EngineRender, client)
	require.NoError(t, err)
	require.Equal(t, 1, client.requests.Len())

	client.Close()
	require.Equal(t, 0, client.requests.Len())

	// Later submissions are not tracked against the closed client
	_, err = d.SubmitRequest(driver.EngineRender, client)
	require.NoError(t, err)
	require.Equal(t, 0, client.requests.Len())

	time.Sleep(time.Millisecond)
	require.NoError(t, d.Throttle(context.Background(), client))
}
