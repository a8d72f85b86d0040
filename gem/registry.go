package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils"
	"golang.org/x/exp/slices"
)

// maxObjectSize is the largest object Create accepts. Page rounding and the power-of-two fence
// sizes of old generations both stay within int below it.
const maxObjectSize = 1 << 62

// Create allocates a new, empty object of at least size bytes. The object holds no pages and no
// binding until something asks for them. Its only coherent copy is in the CPU domain.
func (d *Device) Create(size int) (Handle, error) {
	d.logger.Debug("Device::Create", slog.Int("Size", size))

	if size <= 0 || size > maxObjectSize {
		return 0, errors.Wrapf(ErrNoMemory, "invalid object size %d", size)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.liveObjects >= d.maxObjects {
		return 0, errors.Wrapf(ErrNoMemory, "object limit of %d reached", d.maxObjects)
	}

	d.nextHandle++
	for d.nextHandle == 0 || d.handleTaken(d.nextHandle) {
		d.nextHandle++
	}

	o := newObject(d.nextHandle, memutils.PageAlign(size))
	d.objects.Put(o.handle, o)
	d.liveObjects++

	return o.handle, nil
}

func (d *Device) handleTaken(h Handle) bool {
	_, ok := d.objects.Get(h)
	return ok
}

// Destroy drops the reference that Create returned
func (d *Device) Destroy(h Handle) error {
	d.logger.Debug("Device::Destroy", handleAttr(h))

	return d.Unreference(h)
}

// Reference takes an additional reference on the object
func (d *Device) Reference(h Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	o.refCount++
	return nil
}

// Unreference drops a reference. When the last reference goes, an unbound object is freed at
// once; a bound one is queued and freed once it loses its binding. Pins still held on the object
// or its fence go with the last reference.
func (d *Device) Unreference(h Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	o.refCount--
	if o.refCount > 0 {
		return nil
	}

	d.liveObjects--

	// The handle stops resolving here, so nobody could drop these pins later
	if o.fence != NoFence {
		d.fences[o.fence].pinCount = 0
	}
	if o.pinCount > 0 {
		o.pinCount = 0
		if o.list == d.pinned {
			d.inactive.pushBack(o)
		}
	}

	if !o.bound {
		d.freeObject(o)
		return nil
	}

	o.state = objectStatePendingDestroy
	d.deferred = append(d.deferred, o.handle)
	return nil
}

func (d *Device) freeObject(o *Object) {
	if o.pages != nil {
		d.hw.UnwirePages(driver.ObjectID(o.handle), o.pages, o.dirty)
		o.pages = nil
	}
	if o.madv == MadviseDontNeed {
		d.purge(o)
	}

	if o.state == objectStatePendingDestroy {
		if index := slices.Index(d.deferred, o.handle); index >= 0 {
			d.deferred = slices.Delete(d.deferred, index, index+1)
		}
	}

	d.objects.Delete(o.handle)
}

func (d *Device) purge(o *Object) {
	d.hw.DiscardPages(driver.ObjectID(o.handle))
	o.madv = MadvisePurged
}

// Madvise sets the advisory policy for the object's pages and reports whether the pages are
// still retained. A purged object stays purged.
func (d *Device) Madvise(h Handle, policy Madvise) (bool, error) {
	d.logger.Debug("Device::Madvise", handleAttr(h), slog.String("Policy", policy.String()))

	if policy != MadviseWillNeed && policy != MadviseDontNeed {
		return false, errors.Wrapf(ErrInvalidState, "policy %s cannot be requested", policy)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return false, err
	}

	if o.pinCount > 0 {
		return false, errors.Wrapf(ErrInvalidState, "object %d is pinned", h)
	}

	if o.madv != MadvisePurged {
		o.madv = policy
	}

	// Nothing is resident, so there is nothing to keep
	if o.madv == MadviseDontNeed && !o.bound && o.pages == nil {
		d.purge(o)
	}

	return o.madv != MadvisePurged, nil
}

// FreeDeferred makes one pass over the deferred-destroy queue, unbinding and freeing every entry
// that is neither pinned nor busy on the GPU
func (d *Device) FreeDeferred(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.drainDeferred(ctx)
}

func (d *Device) drainDeferred(ctx context.Context) error {
	if len(d.deferred) == 0 {
		return nil
	}

	queue := slices.Clone(d.deferred)

	var result *multierror.Error
	for _, h := range queue {
		o, ok := d.objects.Get(h)
		if !ok || o.state != objectStatePendingDestroy {
			continue
		}

		if o.pinCount > 0 || o.active {
			continue
		}

		// unbindObject frees a pending object as soon as its binding is gone
		if err := d.unbindObject(ctx, o); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "freeing object %d", h))
		}
	}

	if result != nil {
		d.logger.Error("could not free every deferred object", slog.Any("error", result))
	}
	return result.ErrorOrNil()
}
