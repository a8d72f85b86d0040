package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/gem/memutils"
	"github.com/vkngwrapper/gem/memutils/metadata"
)

// Eviction passes, in escalating order
const (
	// evictInactive only considers idle, unpinned objects, least recently used first
	evictInactive = iota
	// evictBusy also considers objects the GPU is still using; evicting them waits for rendering
	evictBusy
	// evictEverything idles the GPU and unbinds every object that is not pinned
	evictEverything
)

type apertureRegion struct {
	offset int
	size   int
	// object is nil for a free region
	object *Object
}

// evict makes room for a binding of size bytes at align below limit. target is the object being
// bound and is never evicted. The lock may be released.
func (d *Device) evict(ctx context.Context, target *Object, size int, align uint, limit int, pass int) error {
	d.logger.Debug("Device::evict", slog.Int("Size", size), slog.Int("Alignment", int(align)), slog.Int("Pass", pass))

	var candidates []*Object
	switch pass {
	case evictInactive:
		candidates = d.inactive.snapshot()
	case evictBusy:
		d.retireAll()
		candidates = d.inactive.snapshot()
		candidates = append(candidates, d.flushing.snapshot()...)
		for _, eng := range d.engines {
			if eng != nil {
				candidates = append(candidates, eng.active.snapshot()...)
			}
		}
	default:
		return d.evictAll(ctx, target)
	}

	victims := d.planEviction(candidates, target, size, align, limit)
	for _, victim := range victims {
		if err := d.unbindObject(ctx, victim); err != nil {
			return errors.Wrapf(err, "evicting object %d", victim.handle)
		}
	}

	d.logger.Debug("    Evicted objects", slog.Int("Count", len(victims)))
	return nil
}

func (d *Device) evictable(o *Object, target *Object) bool {
	return o != target && o.bound && o.pinCount == 0 && !d.fencePinned(o)
}

// planEviction adds candidates in order until unbinding all of them would open a hole that fits
// the request, then returns just the candidates that overlap that hole. It returns nil when even
// the full candidate set is not enough.
func (d *Device) planEviction(candidates []*Object, target *Object, size int, align uint, limit int) []*Object {
	regions := d.apertureRegions()
	chosen := make(map[*Object]bool, len(candidates))

	for _, candidate := range candidates {
		if !d.evictable(candidate, target) {
			continue
		}
		chosen[candidate] = true

		start, found := findHole(regions, chosen, size, align, limit)
		if !found {
			continue
		}

		var victims []*Object
		for _, region := range regions {
			if region.object == nil || !chosen[region.object] {
				continue
			}
			if region.offset < start+size && start < region.offset+region.size {
				victims = append(victims, region.object)
			}
		}
		return victims
	}

	return nil
}

// apertureRegions lists every region of the aperture in ascending offset order
func (d *Device) apertureRegions() []apertureRegion {
	var regions []apertureRegion
	_ = d.aperture.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		region := apertureRegion{offset: offset, size: size}
		if !free {
			region.object, _ = userData.(*Object)
		}
		regions = append(regions, region)
		return nil
	})

	// Regions are visited from the top of the aperture down
	for i, j := 0, len(regions)-1; i < j; i, j = i+1, j-1 {
		regions[i], regions[j] = regions[j], regions[i]
	}
	return regions
}

// findHole looks for an aligned range of size bytes below limit that would be free once every
// chosen object is gone
func findHole(regions []apertureRegion, chosen map[*Object]bool, size int, align uint, limit int) (int, bool) {
	runStart := -1
	runEnd := 0

	fits := func() (int, bool) {
		if runStart < 0 {
			return 0, false
		}
		end := runEnd
		if end > limit {
			end = limit
		}
		start := memutils.AlignUp(runStart, align)
		return start, start+size <= end
	}

	for _, region := range regions {
		available := region.object == nil || chosen[region.object]
		if !available {
			if start, ok := fits(); ok {
				return start, true
			}
			runStart = -1
			continue
		}

		if runStart < 0 {
			runStart = region.offset
		}
		runEnd = region.offset + region.size
	}

	return fits()
}

// evictAll idles the GPU and unbinds every object that is not pinned. Failures are logged and
// skipped unless the caller's context was cancelled.
func (d *Device) evictAll(ctx context.Context, target *Object) error {
	err := d.idleGPU(ctx)
	if errors.Is(err, ErrInterrupted) {
		return err
	}

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}

	for _, o := range d.boundObjects() {
		if !d.live(o) || !d.evictable(o, target) {
			continue
		}

		if err := d.unbindObject(ctx, o); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			result = multierror.Append(result, errors.Wrapf(err, "evicting object %d", o.handle))
		}
	}

	if result != nil {
		d.logger.Error("could not evict every object", slog.Any("error", result))
	}
	return nil
}
