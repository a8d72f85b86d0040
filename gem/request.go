package gem

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
)

// Request is one batch of GPU work, identified by the seqno its breadcrumb writes on completion
type Request struct {
	seqno   uint32
	engine  driver.EngineID
	tail    uint32
	emitted time.Time

	client     *Client
	clientElem *list.Element
}

func (r *Request) Seqno() uint32           { return r.seqno }
func (r *Request) Engine() driver.EngineID { return r.engine }
func (r *Request) Tail() uint32            { return r.tail }
func (r *Request) Emitted() time.Time      { return r.emitted }

func (r *Request) detachClient() {
	if r.client != nil {
		r.client.requests.Remove(r.clientElem)
		r.client = nil
		r.clientElem = nil
	}
}

// nextSeqno returns the seqno the engine's next request will carry. The same value is handed out
// until a request is submitted.
func (d *Device) nextSeqno(eng *engine) uint32 {
	if eng.lazySeqno == 0 {
		d.seqno++
		if d.seqno == 0 {
			d.seqno++
		}
		eng.lazySeqno = d.seqno
	}
	return eng.lazySeqno
}

// NextSeqno returns the seqno that the engine's next submitted request will carry
func (d *Device) NextSeqno(id driver.EngineID) (uint32, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	eng, err := d.engineByID(id)
	if err != nil {
		return 0, err
	}

	return d.nextSeqno(eng), nil
}

func (d *Device) submitRequest(eng *engine, client *Client) (*Request, error) {
	seqno := d.nextSeqno(eng)

	tail, err := d.hw.EmitRequest(eng.id, seqno)
	if err != nil {
		return nil, errors.Wrapf(err, "emitting request %d on %s", seqno, eng.id)
	}

	req := &Request{
		seqno:   seqno,
		engine:  eng.id,
		tail:    tail,
		emitted: time.Now(),
	}

	if eng.requests.Len() == 0 {
		eng.hangcheckTicks = 0
	}
	eng.requests.PushBack(req)
	eng.lazySeqno = 0

	if client != nil && !client.closed {
		req.client = client
		req.clientElem = client.requests.PushBack(req)
	}

	return req, nil
}

// SubmitRequest finalizes the engine's next seqno: the breadcrumb is emitted and the request is
// queued for retirement. client may be nil.
func (d *Device) SubmitRequest(id driver.EngineID, client *Client) (*Request, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	eng, err := d.engineByID(id)
	if err != nil {
		return nil, err
	}

	return d.submitRequest(eng, client)
}

func (d *Device) moveToActive(o *Object, eng *engine, seqno uint32) {
	o.active = true
	o.engine = eng.id
	o.lastSeqno = seqno
	eng.active.pushBack(o)
}

// MoveToActive records that GPU work carrying seqno on the engine references the object
func (d *Device) MoveToActive(h Handle, id driver.EngineID, seqno uint32) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	eng, err := d.engineByID(id)
	if err != nil {
		return err
	}

	if !o.bound {
		return errors.Wrapf(ErrInvalidState, "object %d must be bound before the GPU may use it", h)
	}
	if seqno == 0 {
		return errors.Wrap(ErrInvalidState, "seqno 0 is reserved")
	}

	d.moveToActive(o, eng, seqno)
	return nil
}

// moveToFlushing parks an object whose rendering is done but whose GPU write has not been flushed.
// The object remembers its engine so a later flush can find it.
func (d *Device) moveToFlushing(o *Object) {
	o.active = false
	d.flushing.pushBack(o)
}

func (d *Device) moveToInactive(o *Object) {
	o.active = false
	o.engine = driver.EngineNone
	o.lastSeqno = 0

	switch {
	case !o.bound:
		if o.list != nil {
			o.list.remove(o)
		}
	case o.pinCount > 0:
		d.pinned.pushBack(o)
	default:
		d.inactive.pushBack(o)
	}
}

// flushEngine emits a flush of the given GPU domains and moves every object whose pending write
// it covers back to active under a new request
func (d *Device) flushEngine(eng *engine, domains driver.Domains) error {
	if err := d.hw.EmitFlush(eng.id, 0, domains); err != nil {
		return errors.Wrapf(err, "flushing %s on %s", domains, eng.id)
	}

	seqno := d.nextSeqno(eng)

	for _, o := range eng.active.snapshot() {
		if o.writeDomain&domains != 0 {
			o.writeDomain = 0
			d.moveToActive(o, eng, seqno)
		}
	}
	for _, o := range d.flushing.snapshot() {
		if o.engine == eng.id && o.writeDomain&domains != 0 {
			o.writeDomain = 0
			d.moveToActive(o, eng, seqno)
		}
	}

	_, err := d.submitRequest(eng, nil)
	return err
}

func (d *Device) retireEngine(eng *engine) {
	completed := d.completedSeqno(eng)

	for elem := eng.requests.Front(); elem != nil; elem = eng.requests.Front() {
		req := elem.Value.(*Request)
		if !seqnoPassed(completed, req.seqno) {
			break
		}

		eng.requests.Remove(elem)
		req.detachClient()
	}

	for _, o := range eng.active.snapshot() {
		if !seqnoPassed(completed, o.lastSeqno) {
			continue
		}

		if o.writeDomain&driver.GPUDomains != 0 {
			d.moveToFlushing(o)
		} else {
			d.moveToInactive(o)
		}
	}

	for _, reg := range d.fences {
		if reg.setupSeqno != 0 && reg.setupEngine == eng.id && seqnoPassed(completed, reg.setupSeqno) {
			reg.setupSeqno = 0
			reg.setupEngine = driver.EngineNone
		}
	}
}

func (d *Device) retireAll() {
	for _, eng := range d.engines {
		if eng != nil {
			d.retireEngine(eng)
		}
	}
}

// Retire reconciles the engine's completed seqno with the outstanding requests and the objects
// they reference
func (d *Device) Retire(id driver.EngineID) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	eng, err := d.engineByID(id)
	if err != nil {
		return err
	}

	d.retireEngine(eng)
	return nil
}

// RetireAll retires every engine
func (d *Device) RetireAll() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.retireAll()
}

// waitSeqno sleeps until the engine has completed seqno. It is called with the lock held and
// returns with the lock held, but it releases the lock while sleeping: callers must re-validate
// anything they looked at before the call.
func (d *Device) waitSeqno(ctx context.Context, eng *engine, seqno uint32) error {
	if d.wedged.Load() {
		return errors.Wrapf(ErrDeviceWedged, "waiting for %s seqno %d", eng.id, seqno)
	}
	if seqno == 0 {
		return nil
	}

	if seqno == eng.lazySeqno {
		if _, err := d.submitRequest(eng, nil); err != nil {
			return err
		}
	}

	if seqnoPassed(d.completedSeqno(eng), seqno) {
		d.retireEngine(eng)
		return nil
	}

	var timeout <-chan time.Time
	if d.waitTimeout > 0 {
		timer := time.NewTimer(d.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	d.irqGet(eng)
	defer d.irqPut(eng)

	for {
		// Take the wakeup channels before testing the condition so a completion between the
		// test and the sleep still wakes us
		completion := eng.event.Wait()
		wedge := d.wedgeEvent.Wait()

		if seqnoPassed(d.completedSeqno(eng), seqno) {
			break
		}
		if d.wedged.Load() {
			return errors.Wrapf(ErrDeviceWedged, "waiting for %s seqno %d", eng.id, seqno)
		}

		d.lock.Unlock()
		select {
		case <-completion:
		case <-wedge:
		case <-ctx.Done():
			d.lock.Lock()
			return errors.Wrapf(interrupted(ctx.Err()), "waiting for %s seqno %d", eng.id, seqno)
		case <-timeout:
			d.lock.Lock()
			return errors.Wrapf(ErrBusy, "timed out waiting for %s seqno %d", eng.id, seqno)
		}
		d.lock.Lock()
	}

	d.retireEngine(eng)
	return nil
}

// WaitForSeqno blocks until the engine reports seqno complete, the context is cancelled, the wait
// times out or the device is wedged
func (d *Device) WaitForSeqno(ctx context.Context, id driver.EngineID, seqno uint32) error {
	d.logger.Debug("Device::WaitForSeqno", slog.String("Engine", id.String()), slog.Int("Seqno", int(seqno)))

	d.lock.Lock()
	defer d.lock.Unlock()

	eng, err := d.engineByID(id)
	if err != nil {
		return err
	}

	return d.waitSeqno(ctx, eng, seqno)
}

// waitRendering waits for every outstanding request referencing the object. It releases the lock
// while sleeping.
func (d *Device) waitRendering(ctx context.Context, o *Object) error {
	if !o.active {
		return nil
	}

	return d.waitSeqno(ctx, d.engines[o.engine], o.lastSeqno)
}

// IdleGPU flushes every engine's GPU write domains and waits for all outstanding work
func (d *Device) IdleGPU(ctx context.Context) error {
	d.logger.Debug("Device::IdleGPU")

	d.lock.Lock()
	defer d.lock.Unlock()

	return d.idleGPU(ctx)
}

func (d *Device) idleGPU(ctx context.Context) error {
	for _, eng := range d.engines {
		if eng == nil {
			continue
		}

		if d.flushing.len() > 0 || eng.active.len() > 0 {
			if err := d.flushEngine(eng, driver.GPUDomains); err != nil {
				return err
			}
		}

		last := eng.lastRequest()
		if last == nil {
			continue
		}

		if err := d.waitSeqno(ctx, eng, last.seqno); err != nil {
			return err
		}
	}

	d.retireAll()
	return nil
}
