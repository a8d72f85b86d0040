package gem

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/gem/internal/utils"
	"github.com/vkngwrapper/gem/memutils/metadata"
	"golang.org/x/time/rate"
)

// Device manages the graphics objects of one GPU: their bindings in the aperture, their
// coherency domains, the fence registers and the requests that keep them busy.
//
// A single mutex serializes every structural change. Operations that wait for the GPU release
// it while they sleep and re-validate whatever they looked at once they hold it again.
type Device struct {
	lock   sync.Mutex
	logger *slog.Logger
	hw     driver.Hardware
	flags  CreateFlags

	generation   int
	apertureSize int
	mappableSize int
	apertureBase uint64
	aperture     metadata.BlockMetadata
	granularity  metadata.GranularityCheck

	objects     *swiss.Map[Handle, *Object]
	nextHandle  Handle
	liveObjects int
	maxObjects  int
	deferred    []Handle

	flushing *objectList
	inactive *objectList
	pinned   *objectList

	engines []*engine
	seqno   uint32

	fences   []*fenceRegister
	fenceLRU list.List

	waitTimeout         time.Duration
	retireInterval      time.Duration
	hangcheckTicks      int
	shrinkerIdleTimeout time.Duration
	throttleWindow      time.Duration

	wedged      atomic.Bool
	wedgeEvent  *utils.Event
	hangLimiter *rate.Limiter

	worker *worker
	closed bool
}

// lookup resolves a caller-provided handle. Objects waiting on the deferred-destroy queue no
// longer have an owner and are not visible.
func (d *Device) lookup(h Handle) (*Object, error) {
	o, ok := d.objects.Get(h)
	if !ok || o.state != objectStateLive {
		return nil, errors.Wrapf(ErrInvalidHandle, "handle %d", h)
	}
	return o, nil
}

// live reports whether o is still the record registered under its handle. Code that released
// the lock must check this before touching an object pointer it held from before.
func (d *Device) live(o *Object) bool {
	current, ok := d.objects.Get(o.handle)
	return ok && current == o
}

func (d *Device) engineByID(id driver.EngineID) (*engine, error) {
	if id < 0 || int(id) >= len(d.engines) || d.engines[id] == nil {
		return nil, errors.Wrapf(ErrInvalidState, "engine %s is not present", id)
	}
	return d.engines[id], nil
}

// Object returns a snapshot of the object's bookkeeping
func (d *Device) Object(h Handle) (ObjectInfo, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return ObjectInfo{}, err
	}

	return o.info(), nil
}

// IsWedged reports whether the device has been declared hung. It does not take the lock.
func (d *Device) IsWedged() bool {
	return d.wedged.Load()
}

// Close stops the retire worker and releases every binding that is not pinned. The device must
// not be used afterward.
func (d *Device) Close(ctx context.Context) error {
	d.logger.Debug("Device::Close")

	if d.worker != nil {
		d.worker.stop()
		d.worker = nil
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	d.retireAll()

	var result *multierror.Error
	for _, o := range d.boundObjects() {
		if !d.live(o) || !o.bound || o.pinCount > 0 {
			continue
		}

		if err := d.unbindObject(ctx, o); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unbinding object %d", o.handle))
		}
	}

	return result.ErrorOrNil()
}

// boundObjects lists every bound object, oldest activity first
func (d *Device) boundObjects() []*Object {
	objects := d.inactive.snapshot()
	objects = append(objects, d.flushing.snapshot()...)
	for _, eng := range d.engines {
		if eng != nil {
			objects = append(objects, eng.active.snapshot()...)
		}
	}
	return append(objects, d.pinned.snapshot()...)
}
