package gem

import (
	"context"
	"log/slog"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
)

// SetDomain makes read the set of domains holding a valid copy of the object. With write, read
// must name exactly one domain, which becomes the sole owner of the object's bytes. Any flushes,
// cache maintenance and waits for rendering the transition needs happen before it returns.
func (d *Device) SetDomain(ctx context.Context, h Handle, read driver.Domains, write bool) error {
	d.logger.Debug("Device::SetDomain", handleAttr(h), slog.String("Read", read.String()), slog.Bool("Write", write))

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	return d.setDomain(ctx, o, read, write)
}

// engineFor picks the engine that GPU domain work on the object runs on
func (d *Device) engineFor(o *Object) *engine {
	if o.engine != driver.EngineNone {
		return d.engines[o.engine]
	}
	return d.engines[driver.EngineRender]
}

func (d *Device) domainSatisfied(o *Object, read driver.Domains, write bool) bool {
	if write {
		return !o.active && o.writeDomain == read && o.readDomains == read
	}

	if o.readDomains&read != read {
		return false
	}
	if o.writeDomain != 0 && o.writeDomain != read {
		return false
	}
	return !o.active || read&^driver.GPUDomains == 0
}

// setDomain is called with the lock held. It may release the lock to wait for rendering; after
// every wait the transition restarts from scratch. o must be live when it is called.
func (d *Device) setDomain(ctx context.Context, o *Object, read driver.Domains, write bool) error {
	if read == 0 {
		return errors.Wrap(ErrInvalidState, "no domain requested")
	}
	if write && bits.OnesCount32(uint32(read)) != 1 {
		return errors.Wrapf(ErrInvalidState, "write access requires exactly one domain, got %s", read)
	}

	for {
		if !d.live(o) {
			return errors.Wrapf(ErrInvalidHandle, "object %d went away during a domain change", o.handle)
		}
		if o.madv == MadvisePurged {
			return errors.Wrapf(ErrInvalidState, "object %d has been purged", o.handle)
		}
		if read&driver.DomainGTT != 0 && !o.bound {
			return errors.Wrapf(ErrInvalidState, "object %d must be bound to enter the GTT domain", o.handle)
		}

		if d.domainSatisfied(o, read, write) {
			return nil
		}

		// A pending GPU write must reach memory before anyone else looks at the object
		if o.writeDomain&driver.GPUDomains != 0 && o.writeDomain != read {
			if err := d.flushEngine(d.engineFor(o), o.writeDomain); err != nil {
				return err
			}
		}

		if o.active && (write || read&^driver.GPUDomains != 0) {
			if err := d.waitRendering(ctx, o); err != nil {
				return err
			}
			continue
		}

		d.transitionCaches(o, read)

		if write {
			o.readDomains = read
			o.writeDomain = read
			o.dirty = true
			return nil
		}

		if o.writeDomain != read {
			o.writeDomain = 0
		}
		o.readDomains |= read
		return nil
	}
}

// transitionCaches performs the CPU cache and aperture maintenance for moving the object's
// valid copy into read
func (d *Device) transitionCaches(o *Object, read driver.Domains) {
	coherent := o.cacheLevel == driver.CacheLevelLLC

	if o.writeDomain == driver.DomainCPU && read != driver.DomainCPU {
		if !coherent && o.pages != nil {
			d.hw.FlushCache(o.pages)
		}
		d.hw.ChipsetFlush()
	}

	if read&driver.DomainCPU != 0 && o.readDomains&driver.DomainCPU == 0 {
		if !coherent && o.pages != nil {
			d.hw.FlushCache(o.pages)
		}
	}

	leavingGTTWrite := o.writeDomain == driver.DomainGTT && read != driver.DomainGTT
	if leavingGTTWrite || read&driver.DomainGTT != 0 {
		d.hw.MemoryBarrier()
	}
}

// WaitIdle waits until no GPU work references the object and any GPU write to it has been flushed
func (d *Device) WaitIdle(ctx context.Context, h Handle) error {
	d.logger.Debug("Device::WaitIdle", handleAttr(h))

	d.lock.Lock()
	defer d.lock.Unlock()

	for {
		o, err := d.lookup(h)
		if err != nil {
			return err
		}

		if o.writeDomain&driver.GPUDomains != 0 {
			if err := d.flushEngine(d.engineFor(o), o.writeDomain); err != nil {
				return err
			}
		}

		if !o.active {
			return nil
		}

		if err := d.waitRendering(ctx, o); err != nil {
			return err
		}
	}
}

// Busy reports whether GPU work still references the object, after retiring whatever has
// completed
func (d *Device) Busy(h Handle) (bool, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return false, err
	}

	// A flushing object is only busy until someone asks
	if o.flushing() {
		if err := d.flushEngine(d.engineFor(o), o.writeDomain); err != nil {
			return false, err
		}
	}

	if o.active {
		d.retireEngine(d.engines[o.engine])
	}

	return o.active, nil
}
