package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils"
)

// faultRetries bounds how many times Fault starts over after losing a race with an unbind or a
// fence steal while the lock was released
const faultRetries = 4

// Fault services a CPU access to a user mapping of the object through the aperture. The object
// is bound in the mappable window (and fenced, if tiled) and moved to the GTT domain; the
// aperture page backing offset is returned.
//
// Binding, fencing and the domain change may all release the lock. Once everything is in place
// the binding generation and fence slot are compared with the values seen before the last
// step; if anything moved the fault starts over.
func (d *Device) Fault(ctx context.Context, h Handle, offset int, write bool) (driver.Page, error) {
	d.logger.Debug("Device::Fault", handleAttr(h), slog.Int("Offset", offset), slog.Bool("Write", write))

	d.lock.Lock()
	defer d.lock.Unlock()

	for attempt := 0; ; attempt++ {
		if attempt > faultRetries {
			return 0, errors.Wrapf(ErrBusy, "object %d kept moving while faulting offset %#x", h, offset)
		}

		o, err := d.lookup(h)
		if err != nil {
			return 0, err
		}
		if offset < 0 || offset >= o.size {
			return 0, errors.Wrapf(ErrInvalidState, "offset %#x is outside object %d", offset, h)
		}

		o, err = d.bind(ctx, h, 0, true)
		if err != nil {
			return 0, err
		}

		if o.tiling != TilingNone {
			_, waited, err := d.acquireFence(ctx, o, driver.EngineNone)
			if err != nil {
				return 0, err
			}
			if waited {
				continue
			}
		}

		generation := o.bindGeneration
		fence := o.fence

		if err := d.setDomain(ctx, o, driver.DomainGTT, write); err != nil {
			if errors.Is(err, ErrInvalidHandle) || errors.Is(err, ErrInvalidState) {
				// Unbound or destroyed while we waited; look again
				continue
			}
			return 0, err
		}

		if !d.live(o) || !o.bound || o.bindGeneration != generation || o.fence != fence {
			d.logger.Debug("    Fault lost a race, retrying", handleAttr(h), slog.Int("Attempt", attempt))
			continue
		}

		o.userFaulted = true
		if o.list != nil {
			o.list.touch(o)
		}

		address := d.apertureBase + uint64(o.offset) + uint64(memutils.AlignDown(offset, memutils.PageSize))
		return driver.Page(address / memutils.PageSize), nil
	}
}
