package gem

import (
	"container/list"
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
)

type fenceRegister struct {
	id       int
	object   *Object
	pinCount int

	// setupSeqno is nonzero while a pipelined write of this register is still queued on
	// setupEngine
	setupSeqno  uint32
	setupEngine driver.EngineID

	lru *list.Element
}

func (d *Device) initFences(count int) {
	d.fences = make([]*fenceRegister, count)
	for i := range d.fences {
		d.fences[i] = &fenceRegister{
			id:          i,
			setupEngine: driver.EngineNone,
		}
	}
}

func (d *Device) fencePinned(o *Object) bool {
	return o.fence != NoFence && d.fences[o.fence].pinCount > 0
}

// AcquireFence assigns a fence register to a bound, tiled object and returns its slot. When every
// slot is taken, the least recently used unpinned slot is stolen. If pipelined names the engine
// the object is active on, the register write is queued behind that engine's work instead of
// being written immediately.
func (d *Device) AcquireFence(ctx context.Context, h Handle, pipelined driver.EngineID) (int, error) {
	d.logger.Debug("Device::AcquireFence", handleAttr(h), slog.String("Pipelined", pipelined.String()))

	d.lock.Lock()
	defer d.lock.Unlock()

	if pipelined != driver.EngineNone {
		if _, err := d.engineByID(pipelined); err != nil {
			return NoFence, err
		}
	}

	for {
		o, err := d.lookup(h)
		if err != nil {
			return NoFence, err
		}

		slot, waited, err := d.acquireFence(ctx, o, pipelined)
		if err != nil {
			return NoFence, err
		}
		if !waited {
			return slot, nil
		}
	}
}

// acquireFence returns waited == true when it had to release the lock, in which case nothing was
// assigned and the caller must look the object up again and retry
func (d *Device) acquireFence(ctx context.Context, o *Object, pipelined driver.EngineID) (int, bool, error) {
	if !o.bound {
		return NoFence, false, errors.Wrapf(ErrInvalidState, "object %d must be bound to hold a fence", o.handle)
	}
	if o.tiling == TilingNone {
		return NoFence, false, errors.Wrapf(ErrInvalidState, "object %d is not tiled", o.handle)
	}
	if !o.fenceable {
		return NoFence, false, errors.Wrapf(ErrInvalidState, "object %d is not bound at a fenceable offset", o.handle)
	}

	if o.fence != NoFence {
		d.fenceLRU.MoveToBack(d.fences[o.fence].lru)
		return o.fence, false, nil
	}

	reg, waited, err := d.claimFence(ctx)
	if err != nil || waited {
		return NoFence, waited, err
	}

	if err := d.assignFence(reg, o, pipelined); err != nil {
		return NoFence, false, err
	}
	return reg.id, false, nil
}

// claimFence finds a register for a new assignment, stealing the least recently used unpinned one
// if none is free
func (d *Device) claimFence(ctx context.Context) (*fenceRegister, bool, error) {
	for _, reg := range d.fences {
		if reg.object == nil {
			return reg, false, nil
		}
	}

	for elem := d.fenceLRU.Front(); elem != nil; elem = elem.Next() {
		reg := elem.Value.(*fenceRegister)
		if reg.pinCount > 0 {
			continue
		}

		victim := reg.object
		if reg.setupSeqno != 0 {
			return nil, true, d.waitSeqno(ctx, d.engines[reg.setupEngine], reg.setupSeqno)
		}

		// Before gen4 the GPU itself addresses tiled surfaces through the fence
		if d.generation < 4 && victim.active {
			return nil, true, d.waitRendering(ctx, victim)
		}

		d.logger.Debug("    Stealing fence", slog.Int("Slot", reg.id), handleAttr(victim.handle))
		d.detachFence(reg)
		return reg, false, nil
	}

	return nil, false, errors.Wrap(ErrBusy, "every fence register is pinned")
}

// detachFence takes the register away from its object. Writes the object made through the fence
// are flushed and user mappings that relied on it are revoked.
func (d *Device) detachFence(reg *fenceRegister) {
	victim := reg.object

	if victim.writeDomain == driver.DomainGTT {
		d.hw.MemoryBarrier()
		victim.writeDomain = 0
	}
	d.revokeMappings(victim)

	victim.fence = NoFence
	reg.object = nil
	d.fenceLRU.Remove(reg.lru)
	reg.lru = nil
}

func (d *Device) assignFence(reg *fenceRegister, o *Object, pipelined driver.EngineID) error {
	value := d.encodeFence(reg.id, o)

	if pipelined != driver.EngineNone && o.active && o.engine == pipelined {
		eng := d.engines[pipelined]
		seqno := d.nextSeqno(eng)

		if err := d.hw.EmitFenceWrite(pipelined, reg.id, value); err != nil {
			return errors.Wrapf(err, "queueing fence %d write on %s", reg.id, pipelined)
		}

		reg.setupSeqno = seqno
		reg.setupEngine = pipelined
		d.moveToActive(o, eng, seqno)
	} else {
		d.hw.WriteFence(reg.id, value)
	}

	reg.object = o
	reg.lru = d.fenceLRU.PushBack(reg)
	o.fence = reg.id
	return nil
}

// releaseFence is called with the lock held and may release it
func (d *Device) releaseFence(ctx context.Context, o *Object) error {
	for {
		if !d.live(o) || o.fence == NoFence {
			return nil
		}

		reg := d.fences[o.fence]
		if reg.pinCount > 0 {
			return errors.Wrapf(errPinned, "fence %d of object %d", reg.id, o.handle)
		}

		if d.wedged.Load() {
			// Nothing queued on a hung engine is ever going to run
			reg.setupSeqno = 0
			reg.setupEngine = driver.EngineNone
		}

		if reg.setupSeqno != 0 {
			if err := d.waitSeqno(ctx, d.engines[reg.setupEngine], reg.setupSeqno); err != nil {
				return err
			}
			continue
		}

		if d.generation < 4 && o.active {
			if err := d.waitRendering(ctx, o); err != nil {
				return err
			}
			continue
		}

		d.detachFence(reg)
		d.hw.WriteFence(reg.id, d.clearedFence(reg.id))
		return nil
	}
}

// ReleaseFence gives up the object's fence register, if it holds one
func (d *Device) ReleaseFence(ctx context.Context, h Handle) error {
	d.logger.Debug("Device::ReleaseFence", handleAttr(h))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	return d.releaseFence(ctx, o)
}

// PinFence keeps the object's fence register from being stolen
func (d *Device) PinFence(h Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	if o.fence == NoFence {
		return errors.Wrapf(ErrInvalidState, "object %d holds no fence", h)
	}

	d.fences[o.fence].pinCount++
	return nil
}

// UnpinFence releases a hold taken by PinFence
func (d *Device) UnpinFence(h Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	if o.fence == NoFence || d.fences[o.fence].pinCount == 0 {
		return errors.Wrapf(ErrInvalidState, "object %d holds no pinned fence", h)
	}

	d.fences[o.fence].pinCount--
	return nil
}

// restoreFences rewrites every register from the bookkeeping, after the hardware lost its state
func (d *Device) restoreFences() {
	for _, reg := range d.fences {
		reg.setupSeqno = 0
		reg.setupEngine = driver.EngineNone

		if reg.object != nil {
			d.hw.WriteFence(reg.id, d.encodeFence(reg.id, reg.object))
		} else {
			d.hw.WriteFence(reg.id, d.clearedFence(reg.id))
		}
	}
}
