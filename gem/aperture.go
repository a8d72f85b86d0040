package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils"
	"github.com/vkngwrapper/gem/memutils/metadata"
	"golang.org/x/exp/constraints"
)

const maxPinCount = 0x7fff

func maxOf[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Bind gives the object a range in the aperture and returns its offset. alignment may be zero.
// With mappable, the range lies within the CPU-visible window and is sized and aligned so a fence
// register can cover it. Objects that are in the way are evicted if necessary.
func (d *Device) Bind(ctx context.Context, h Handle, alignment uint, mappable bool) (int, error) {
	d.logger.Debug("Device::Bind", handleAttr(h), slog.Int("Alignment", int(alignment)), slog.Bool("Mappable", mappable))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.bind(ctx, h, alignment, mappable)
	if err != nil {
		return 0, err
	}
	return o.offset, nil
}

// bind is called with the lock held and returns the bound object, live, with the lock held. The
// lock may be released along the way to evict busy objects.
func (d *Device) bind(ctx context.Context, h Handle, alignment uint, mappable bool) (*Object, error) {
	if alignment != 0 && !memutils.IsPow2(alignment) {
		return nil, errors.Wrapf(ErrInvalidState, "alignment %d is not a power of two", alignment)
	}

	evictPass := 0
	for {
		o, err := d.lookup(h)
		if err != nil {
			return nil, err
		}

		if o.madv != MadviseWillNeed {
			return nil, errors.Wrapf(ErrInvalidState, "object %d is purgeable and cannot be bound", h)
		}

		size := o.size
		align := maxOf(alignment, d.unfencedAlignment(o))
		limit := d.apertureSize
		if mappable {
			size = d.fenceSize(o)
			align = maxOf(alignment, d.fenceAlignment(o))
			limit = d.mappableSize
		}
		align = maxOf(align, memutils.PageSize)

		if size > limit {
			return nil, errors.Wrapf(ErrInvalidState, "object %d needs %d bytes but the window is only %d", h, size, limit)
		}

		if o.bound {
			if o.offset%int(align) == 0 && (!mappable || (o.mappable && o.fenceable)) {
				if o.list != nil {
					o.list.touch(o)
				}
				return o, nil
			}

			if o.pinCount > 0 {
				return nil, errors.Wrapf(errPinned, "object %d is bound at %#x, which does not satisfy the request", h, o.offset)
			}

			if err := d.unbindObject(ctx, o); err != nil {
				return nil, err
			}
			continue
		}

		found, req, err := d.findRange(size, align, limit, o.cacheLevel)
		if err != nil {
			return nil, err
		}

		if !found {
			if evictPass > evictEverything {
				return nil, errors.Wrapf(ErrNoSpace, "%d bytes for object %d", size, h)
			}

			if err := d.evict(ctx, o, size, align, limit, evictPass); err != nil {
				return nil, err
			}
			evictPass++
			continue
		}

		if err := d.commitBinding(o, req, size); err != nil {
			return nil, err
		}
		return o, nil
	}
}

func (d *Device) findRange(size int, align uint, limit int, level driver.CacheLevel) (bool, metadata.AllocationRequest, error) {
	found, req, err := d.aperture.CreateAllocationRequest(size, align, false, cacheColor(level), metadata.AllocationStrategyMinMemory, limit)
	if err != nil || found {
		return found, req, err
	}

	return d.aperture.CreateAllocationRequest(size, align, false, cacheColor(level), metadata.AllocationStrategyMinOffset, limit)
}

func (d *Device) commitBinding(o *Object, req metadata.AllocationRequest, size int) error {
	if err := d.aperture.Alloc(req, cacheColor(o.cacheLevel), o); err != nil {
		return errors.Wrapf(err, "reserving aperture range for object %d", o.handle)
	}

	if o.pages == nil {
		pages, err := d.hw.WirePages(driver.ObjectID(o.handle), o.size/memutils.PageSize)
		if err != nil {
			d.freeRange(req.BlockAllocationHandle)
			return errors.Mark(errors.Wrapf(err, "wiring pages for object %d", o.handle), ErrNoMemory)
		}
		o.pages = pages
	}

	if err := d.hw.InsertEntries(req.Offset, o.pages, o.cacheLevel); err != nil {
		d.hw.UnwirePages(driver.ObjectID(o.handle), o.pages, false)
		o.pages = nil
		d.freeRange(req.BlockAllocationHandle)
		return errors.Wrapf(err, "programming translation entries for object %d", o.handle)
	}

	o.bound = true
	o.alloc = req.BlockAllocationHandle
	o.offset = req.Offset
	o.boundSize = size
	o.bindGeneration++
	d.updateFenceable(o)
	o.mappable = o.offset+o.boundSize <= d.mappableSize

	if !o.active {
		d.moveToInactive(o)
	}

	d.logger.Debug("    Bound object", handleAttr(o.handle), slog.Int("Offset", o.offset), slog.Int("Size", o.boundSize))
	return nil
}

func (d *Device) updateFenceable(o *Object) {
	o.fenceable = o.boundSize == d.fenceSize(o) && o.offset%int(d.fenceAlignment(o)) == 0
}

func (d *Device) freeRange(handle metadata.BlockAllocationHandle) {
	if err := d.aperture.Free(handle); err != nil {
		panic(errors.Wrap(err, "aperture metadata is inconsistent"))
	}
}

// Unbind takes the object out of the aperture, waiting for rendering and moving it to the CPU
// domain first. Objects on the deferred-destroy queue get a chance to go afterward.
func (d *Device) Unbind(ctx context.Context, h Handle) error {
	d.logger.Debug("Device::Unbind", handleAttr(h))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	if err := d.unbindObject(ctx, o); err != nil {
		return err
	}

	// The object is unbound either way; a stuck deferred entry is not this caller's problem
	_ = d.drainDeferred(ctx)
	return nil
}

// unbindObject is called with the lock held and may release it. On return o is either unbound or
// was freed, unless an error is returned.
func (d *Device) unbindObject(ctx context.Context, o *Object) error {
	for {
		if !d.live(o) || !o.bound {
			return nil
		}

		if o.pinCount > 0 || d.fencePinned(o) {
			return errors.Wrapf(errPinned, "object %d", o.handle)
		}

		err := d.setDomain(ctx, o, driver.DomainCPU, true)
		if errors.Is(err, ErrDeviceWedged) {
			// The GPU is never going to give the object back; take it
			if d.live(o) {
				d.abandonGPUState(o)
				o.readDomains = driver.DomainCPU
				o.writeDomain = driver.DomainCPU
			}
		} else if err != nil {
			return err
		}

		// The lock may have been dropped: somebody may have unbound, pinned or resubmitted it
		if !d.live(o) || !o.bound || o.pinCount > 0 || o.active || o.flushing() {
			continue
		}

		if err := d.releaseFence(ctx, o); err != nil {
			return err
		}
		if !d.live(o) || !o.bound || o.active {
			continue
		}

		d.revokeMappings(o)
		d.hw.ClearRange(o.offset, o.boundSize)
		d.hw.UnwirePages(driver.ObjectID(o.handle), o.pages, o.dirty)
		o.pages = nil
		o.dirty = false

		if o.madv == MadviseDontNeed {
			d.purge(o)
		}

		d.freeRange(o.alloc)
		if o.list != nil {
			o.list.remove(o)
		}
		o.bound = false
		o.alloc = metadata.NoAllocation
		o.offset = 0
		o.boundSize = 0
		o.mappable = false
		o.fenceable = false
		o.bindGeneration++

		if o.state == objectStatePendingDestroy {
			d.freeObject(o)
		}
		return nil
	}
}

// abandonGPUState forgets every claim the GPU has on the object
func (d *Device) abandonGPUState(o *Object) {
	o.readDomains &^= driver.GPUDomains
	o.writeDomain &^= driver.GPUDomains
	if o.readDomains == 0 {
		o.readDomains = driver.DomainCPU
	}
	if o.active || o.flushing() {
		d.moveToInactive(o)
	}
}

func (d *Device) revokeMappings(o *Object) {
	if o.userFaulted {
		d.hw.RevokeMapping(driver.ObjectID(o.handle))
		o.userFaulted = false
	}
}

// Pin binds the object if necessary and holds the binding in place until a matching Unpin
func (d *Device) Pin(ctx context.Context, h Handle, alignment uint, mappable bool) (int, error) {
	d.logger.Debug("Device::Pin", handleAttr(h), slog.Int("Alignment", int(alignment)), slog.Bool("Mappable", mappable))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.bind(ctx, h, alignment, mappable)
	if err != nil {
		return 0, err
	}

	if o.pinCount >= maxPinCount {
		return 0, errors.Wrapf(ErrBusy, "object %d has reached the pin limit", h)
	}

	o.pinCount++
	if o.pinCount == 1 && !o.active && !o.flushing() {
		d.pinned.pushBack(o)
	}

	return o.offset, nil
}

// Unpin releases a hold taken by Pin
func (d *Device) Unpin(h Handle) error {
	d.logger.Debug("Device::Unpin", handleAttr(h))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	if o.pinCount == 0 {
		return errors.Wrapf(ErrInvalidState, "object %d is not pinned", h)
	}

	o.pinCount--
	if o.pinCount == 0 && o.list == d.pinned {
		d.inactive.pushBack(o)
	}

	return nil
}
