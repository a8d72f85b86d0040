package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

// ShrinkResult reports what a call to Device.OnLowMemory released
type ShrinkResult struct {
	// Freed is the number of bound bytes whose pages were released
	Freed int
	// Unbound is the number of objects that lost their binding
	Unbound int
	// Purged is the number of objects whose pages were discarded for good
	Purged int
}

// OnLowMemory releases the pages of idle objects until target bytes have been freed, purgeable
// objects first. A target of zero or less releases everything it can. If idle objects are not
// enough and the GPU is busy, it waits a bounded time for the GPU to idle and tries once more.
//
// Failures to release individual objects are logged; an error is only returned when nothing at
// all could be released, or when ctx was cancelled.
func (d *Device) OnLowMemory(ctx context.Context, target int) (ShrinkResult, error) {
	d.logger.Debug("Device::OnLowMemory", slog.Int("Target", target))

	d.lock.Lock()
	defer d.lock.Unlock()

	var result ShrinkResult
	var failures *multierror.Error

	d.retireAll()

	if err := d.shrink(ctx, target, &result, &failures); err != nil {
		return result, err
	}

	if !d.shrinkSatisfied(target, result) && d.gpuBusy() {
		idleCtx, cancel := context.WithTimeout(ctx, d.shrinkerIdleTimeout)
		err := d.idleGPU(idleCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			return result, errors.Wrap(interrupted(ctx.Err()), "waiting for the GPU to idle")
		case err != nil:
			failures = multierror.Append(failures, errors.Wrap(err, "waiting for the GPU to idle"))
		default:
			if err := d.shrink(ctx, target, &result, &failures); err != nil {
				return result, err
			}
		}
	}

	d.logger.Debug("    Shrink finished", slog.Int("Freed", result.Freed), slog.Int("Unbound", result.Unbound), slog.Int("Purged", result.Purged))

	if failures != nil {
		d.logger.Error("could not release every object", slog.Any("error", failures))
		if result.Freed == 0 && result.Purged == 0 {
			return result, failures.ErrorOrNil()
		}
	}
	return result, nil
}

func (d *Device) shrinkSatisfied(target int, result ShrinkResult) bool {
	return target > 0 && result.Freed >= target
}

func (d *Device) gpuBusy() bool {
	if d.flushing.len() > 0 {
		return true
	}
	for _, eng := range d.engines {
		if eng != nil && eng.busy() {
			return true
		}
	}
	return false
}

// shrink makes one pass over the inactive list for purgeable objects, then one for everything
// else. Only an interrupted wait is returned; other failures are collected.
func (d *Device) shrink(ctx context.Context, target int, result *ShrinkResult, failures **multierror.Error) error {
	passes := []func(*Object) bool{
		func(o *Object) bool { return o.madv == MadviseDontNeed },
		func(o *Object) bool { return true },
	}

	for _, eligible := range passes {
		for _, o := range d.inactive.snapshot() {
			if d.shrinkSatisfied(target, *result) {
				return nil
			}
			if !d.live(o) || o.list != d.inactive || !eligible(o) {
				continue
			}

			size := o.boundSize
			purgeable := o.madv == MadviseDontNeed

			if err := d.unbindObject(ctx, o); err != nil {
				if errors.Is(err, ErrInterrupted) {
					return err
				}
				*failures = multierror.Append(*failures, errors.Wrapf(err, "releasing object %d", o.handle))
				continue
			}

			result.Freed += size
			result.Unbound++
			if purgeable {
				result.Purged++
			}
		}
	}

	return nil
}
