package gem

import (
	"math/bits"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils"
	"github.com/vkngwrapper/gem/memutils/metadata"
)

// colorFree marks a granule no binding touches
const colorFree uint32 = 0

// cacheColor is the allocation type handed to the aperture metadata for a binding at the given
// cache level
func cacheColor(level driver.CacheLevel) uint32 {
	return uint32(level) + 1
}

type granuleInfo struct {
	color uint32
	count uint16
}

type colorValidation struct {
	granuleAllocs []uint16
}

// cacheColoring keeps bindings of different cache levels out of each other's granules. Some
// hardware prefetches across a binding's edge, which must not pull snooped and unsnooped lines
// into the same granule.
type cacheColoring struct {
	granularity uint
	granules    []granuleInfo
}

var _ metadata.GranularityCheck = &cacheColoring{}

func newCacheColoring(granularity uint, size int) *cacheColoring {
	count := size / int(granularity)
	if size%int(granularity) > 0 {
		count++
	}

	return &cacheColoring{
		granularity: granularity,
		granules:    make([]granuleInfo, count),
	}
}

func (c *cacheColoring) AllocationsConflict(firstColor uint32, secondColor uint32) bool {
	if firstColor == colorFree || secondColor == colorFree {
		return false
	}
	return firstColor != secondColor
}

func (c *cacheColoring) RoundUpAllocRequest(color uint32, allocSize int, allocAlignment uint) (int, uint) {
	return allocSize, allocAlignment
}

func (c *cacheColoring) CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, color uint32) (int, bool) {
	start := c.startGranule(allocOffset)
	if c.granules[start].count > 0 && c.AllocationsConflict(c.granules[start].color, color) {
		allocOffset = memutils.AlignUp(allocOffset, c.granularity)

		if regionSize < allocSize+allocOffset-regionOffset {
			return allocOffset, true
		}

		start++
	}

	end := c.endGranule(allocOffset, allocSize)
	if end != start && end < len(c.granules) && c.granules[end].count > 0 &&
		c.AllocationsConflict(c.granules[end].color, color) {
		return allocOffset, true
	}

	return allocOffset, false
}

func (c *cacheColoring) AllocRegions(color uint32, offset, size int) {
	start := c.startGranule(offset)
	c.claim(&c.granules[start], color)

	end := c.endGranule(offset, size)
	if start != end {
		c.claim(&c.granules[end], color)
	}
}

func (c *cacheColoring) FreeRegions(offset, size int) {
	start := c.startGranule(offset)
	c.release(&c.granules[start])

	end := c.endGranule(offset, size)
	if start != end {
		c.release(&c.granules[end])
	}
}

func (c *cacheColoring) Clear() {
	c.granules = make([]granuleInfo, len(c.granules))
}

func (c *cacheColoring) StartValidation() any {
	return &colorValidation{granuleAllocs: make([]uint16, len(c.granules))}
}

func (c *cacheColoring) Validate(anyCtx any, offset, size int) error {
	ctx := anyCtx.(*colorValidation)

	start := c.startGranule(offset)
	ctx.granuleAllocs[start]++
	if c.granules[start].count < 1 {
		return errors.Errorf("no bindings in start granule %d", start)
	}

	end := c.endGranule(offset, size)
	if start != end {
		ctx.granuleAllocs[end]++
		if c.granules[end].count < 1 {
			return errors.Errorf("no bindings in end granule %d", end)
		}
	}

	return nil
}

func (c *cacheColoring) FinishValidation(anyCtx any) error {
	ctx := anyCtx.(*colorValidation)

	for index, granule := range c.granules {
		if ctx.granuleAllocs[index] != granule.count {
			return errors.Errorf("binding count mismatch on granule %d", index)
		}
	}
	return nil
}

func (c *cacheColoring) claim(granule *granuleInfo, color uint32) {
	if granule.count == 0 {
		granule.color = color
	}
	granule.count++
}

func (c *cacheColoring) release(granule *granuleInfo) {
	granule.count--
	if granule.count == 0 {
		granule.color = colorFree
	}
}

func (c *cacheColoring) startGranule(offset int) int {
	return c.granuleIndex(memutils.AlignDown(offset, c.granularity))
}

func (c *cacheColoring) endGranule(offset int, size int) int {
	return c.granuleIndex(memutils.AlignDown(offset+size-1, c.granularity))
}

func (c *cacheColoring) granuleIndex(offset int) int {
	return offset >> (63 - bits.LeadingZeros64(uint64(c.granularity)))
}
