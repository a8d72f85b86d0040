package gem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils"
)

const (
	gen3MinFenceSize = 1024 * 1024
	gen2MinFenceSize = 512 * 1024

	gen3MaxStride = 8192
	gen4MaxStride = 256 * 1024
)

// fencedLayout reports whether a fence register covering the object imposes size and
// alignment rules on its binding. From gen4 on fences have page granularity.
func (d *Device) fencedLayout(o *Object) bool {
	return d.generation < 4 && o.tiling != TilingNone
}

// fenceSize is the size of aperture range a fence register covering the object would need
func (d *Device) fenceSize(o *Object) int {
	if !d.fencedLayout(o) {
		return o.size
	}

	size := gen2MinFenceSize
	if d.generation == 3 {
		size = gen3MinFenceSize
	}
	for size < o.size && size < maxObjectSize {
		size <<= 1
	}
	return size
}

// fenceAlignment is the alignment of a binding a fence register can cover. Old fences must be
// naturally aligned to their size.
func (d *Device) fenceAlignment(o *Object) uint {
	if !d.fencedLayout(o) {
		return memutils.PageSize
	}
	return uint(d.fenceSize(o))
}

// unfencedAlignment is the alignment of a binding the GPU will only ever reach without a fence.
// Gen3 can render to tiled surfaces at any page; gen2 always needs fence alignment.
func (d *Device) unfencedAlignment(o *Object) uint {
	if !d.fencedLayout(o) || d.generation == 3 {
		return memutils.PageSize
	}
	return uint(d.fenceSize(o))
}

func (d *Device) tileWidth(mode Tiling) int {
	if d.generation == 2 || mode == TilingY {
		return 128
	}
	return 512
}

func (d *Device) validStride(mode Tiling, stride int) bool {
	if mode == TilingNone {
		return true
	}
	if stride <= 0 || stride%d.tileWidth(mode) != 0 {
		return false
	}

	if d.generation >= 4 {
		return stride <= gen4MaxStride
	}
	return stride <= gen3MaxStride && memutils.IsPow2(stride)
}

// SetTiling changes the surface layout the object's fence register will describe. The object
// loses its fence and any user mappings; if its current binding can no longer be fenced it is
// unbound.
func (d *Device) SetTiling(ctx context.Context, h Handle, mode Tiling, stride int) error {
	d.logger.Debug("Device::SetTiling", handleAttr(h), slog.String("Tiling", mode.String()), slog.Int("Stride", stride))

	if mode != TilingNone && mode != TilingX && mode != TilingY {
		return errors.Wrapf(ErrInvalidState, "unknown tiling mode %s", mode)
	}
	if mode == TilingNone {
		stride = 0
	}
	if !d.validStride(mode, stride) {
		return errors.Wrapf(ErrInvalidState, "stride %d is not valid for %s tiling", stride, mode)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	for {
		o, err := d.lookup(h)
		if err != nil {
			return err
		}

		if o.tiling == mode && o.stride == stride {
			return nil
		}
		if o.pinCount > 0 {
			return errors.Wrapf(errPinned, "object %d cannot change layout", h)
		}

		if o.fence != NoFence {
			if err := d.releaseFence(ctx, o); err != nil {
				return err
			}
			continue
		}

		o.tiling = mode
		o.stride = stride
		d.revokeMappings(o)

		if !o.bound {
			return nil
		}

		d.updateFenceable(o)
		misaligned := o.offset%int(d.unfencedAlignment(o)) != 0
		if (o.mappable && !o.fenceable) || misaligned {
			return d.unbindObject(ctx, o)
		}
		return nil
	}
}

// SetCacheLevel changes how the object's pages are snooped. A bound object has its translation
// entries rewritten, or is unbound if cache colouring would no longer allow its neighbours.
func (d *Device) SetCacheLevel(ctx context.Context, h Handle, level driver.CacheLevel) error {
	d.logger.Debug("Device::SetCacheLevel", handleAttr(h), slog.String("Level", level.String()))

	if level != driver.CacheLevelNone && level != driver.CacheLevelLLC {
		return errors.Wrapf(ErrInvalidState, "unknown cache level %s", level)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	o, err := d.lookup(h)
	if err != nil {
		return err
	}

	if o.cacheLevel == level {
		return nil
	}
	if o.pinCount > 0 {
		return errors.Wrapf(errPinned, "object %d cannot change cache level", h)
	}

	if o.bound {
		if _, colored := d.granularity.(*cacheColoring); colored {
			if err := d.unbindObject(ctx, o); err != nil {
				return err
			}
			if !d.live(o) {
				return errors.Wrapf(ErrInvalidHandle, "handle %d", h)
			}
		} else {
			if err := d.waitRendering(ctx, o); err != nil {
				return err
			}
			if !d.live(o) {
				return errors.Wrapf(ErrInvalidHandle, "handle %d", h)
			}
			if o.bound {
				if err := d.hw.InsertEntries(o.offset, o.pages, level); err != nil {
					return errors.Wrapf(err, "rewriting translation entries for object %d", h)
				}
			}
		}
	}

	o.cacheLevel = level
	return nil
}
