package gem

import (
	"container/list"
	"context"
	"time"
)

// Client groups the requests submitted on behalf of one user of the device, so a client can be
// throttled and its requests forgotten when it goes away
type Client struct {
	device   *Device
	requests list.List
	closed   bool
}

// OpenClient registers a new client
func (d *Device) OpenClient() *Client {
	return &Client{device: d}
}

// Close detaches the client from its outstanding requests. The requests themselves still retire
// normally.
func (c *Client) Close() {
	c.device.lock.Lock()
	defer c.device.lock.Unlock()

	for elem := c.requests.Front(); elem != nil; elem = c.requests.Front() {
		elem.Value.(*Request).detachClient()
	}
	c.closed = true
}

// Throttle keeps a client from running too far ahead of the GPU: it waits for the most recent of
// the client's requests that was emitted longer than the throttle window ago
func (d *Device) Throttle(ctx context.Context, client *Client) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	cutoff := time.Now().Add(-d.throttleWindow)

	var target *Request
	for elem := client.requests.Front(); elem != nil; elem = elem.Next() {
		req := elem.Value.(*Request)
		if req.emitted.After(cutoff) {
			break
		}
		target = req
	}

	if target == nil {
		return nil
	}

	return d.waitSeqno(ctx, d.engines[target.engine], target.seqno)
}
