package gem

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gem/memutils"
)

// Stats is a point-in-time summary of the device's bookkeeping
type Stats struct {
	Objects     int
	ObjectBytes int
	// PendingDestroy counts objects with no references left that are waiting to lose their
	// binding
	PendingDestroy int

	Bound       int
	BoundBytes  int
	Active      int
	Flushing    int
	Inactive    int
	Pinned      int
	PinnedBytes int

	FencesUsed   int
	FencesPinned int

	// Aperture describes the free and used ranges of the aperture
	Aperture memutils.DetailedStatistics

	Seqno  uint32
	Wedged bool
}

// Stats gathers a Stats summary under the device lock
func (d *Device) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.stats()
}

func (d *Device) stats() Stats {
	stats := Stats{
		Seqno:  d.seqno,
		Wedged: d.wedged.Load(),
	}

	d.objects.Iter(func(h Handle, o *Object) bool {
		if o.state == objectStatePendingDestroy {
			stats.PendingDestroy++
		} else {
			stats.Objects++
			stats.ObjectBytes += o.size
		}

		if o.bound {
			stats.Bound++
			stats.BoundBytes += o.boundSize
		}
		if o.pinCount > 0 {
			stats.Pinned++
			stats.PinnedBytes += o.boundSize
		}
		return false
	})

	for _, eng := range d.engines {
		if eng != nil {
			stats.Active += eng.active.len()
		}
	}
	stats.Flushing = d.flushing.len()
	stats.Inactive = d.inactive.len()

	for _, reg := range d.fences {
		if reg.object != nil {
			stats.FencesUsed++
		}
		if reg.pinCount > 0 {
			stats.FencesPinned++
		}
	}

	stats.Aperture.Clear()
	d.aperture.AddDetailedStatistics(&stats.Aperture)

	return stats
}

// BuildStatsString renders the device's bookkeeping as JSON. With detailed, every region of the
// aperture and every fence register is listed as well.
func (d *Device) BuildStatsString(detailed bool) string {
	d.lock.Lock()
	defer d.lock.Unlock()

	stats := d.stats()

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("Generation").Int(d.generation)
	root.Name("Seqno").Int(int(stats.Seqno))
	root.Name("Wedged").Bool(stats.Wedged)

	objects := root.Name("Objects").Object()
	objects.Name("Count").Int(stats.Objects)
	objects.Name("Bytes").Int(stats.ObjectBytes)
	objects.Name("PendingDestroy").Int(stats.PendingDestroy)
	objects.Name("Bound").Int(stats.Bound)
	objects.Name("BoundBytes").Int(stats.BoundBytes)
	objects.Name("Active").Int(stats.Active)
	objects.Name("Flushing").Int(stats.Flushing)
	objects.Name("Inactive").Int(stats.Inactive)
	objects.Name("Pinned").Int(stats.Pinned)
	objects.Name("PinnedBytes").Int(stats.PinnedBytes)
	objects.End()

	aperture := root.Name("Aperture").Object()
	aperture.Name("MappableBytes").Int(d.mappableSize)
	aperture.Name("FreeBytes").Int(stats.Aperture.FreeBytes())
	d.aperture.BlockJsonData(aperture)
	if detailed {
		d.printApertureRegions(aperture)
	}
	aperture.End()

	fences := root.Name("Fences").Object()
	fences.Name("Count").Int(len(d.fences))
	fences.Name("Used").Int(stats.FencesUsed)
	fences.Name("Pinned").Int(stats.FencesPinned)
	if detailed {
		d.printFences(fences)
	}
	fences.End()

	engines := root.Name("Engines").Array()
	for _, eng := range d.engines {
		if eng == nil {
			continue
		}

		obj := engines.Object()
		obj.Name("Name").String(eng.id.String())
		obj.Name("Requests").Int(eng.requests.Len())
		obj.Name("Active").Int(eng.active.len())
		obj.Name("CompletedSeqno").Int(int(d.hw.CompletedSeqno(eng.id)))
		if last := eng.lastRequest(); last != nil {
			obj.Name("LastSeqno").Int(int(last.seqno))
		}
		obj.End()
	}
	engines.End()

	root.End()
	return string(writer.Bytes())
}

func (d *Device) printApertureRegions(json jwriter.ObjectState) {
	regions := json.Name("Regions").Array()
	defer regions.End()

	for _, region := range d.apertureRegions() {
		obj := regions.Object()
		obj.Name("Offset").Int(region.offset)
		obj.Name("Size").Int(region.size)

		if region.object == nil {
			obj.Name("Type").String("Free")
		} else {
			printObject(obj, region.object)
		}
		obj.End()
	}
}

func (d *Device) printFences(json jwriter.ObjectState) {
	slots := json.Name("Slots").Array()
	defer slots.End()

	for _, reg := range d.fences {
		obj := slots.Object()
		obj.Name("Slot").Int(reg.id)
		obj.Name("PinCount").Int(reg.pinCount)
		if reg.object != nil {
			obj.Name("Handle").Int(int(reg.object.handle))
		}
		if reg.setupSeqno != 0 {
			obj.Name("SetupSeqno").Int(int(reg.setupSeqno))
			obj.Name("SetupEngine").String(reg.setupEngine.String())
		}
		obj.End()
	}
}

func printObject(json jwriter.ObjectState, o *Object) {
	json.Name("Handle").Int(int(o.handle))
	json.Name("ObjectSize").Int(o.size)
	json.Name("ReadDomains").String(o.readDomains.String())
	json.Name("WriteDomain").String(o.writeDomain.String())
	json.Name("PinCount").Int(o.pinCount)
	json.Name("Mappable").Bool(o.mappable)
	json.Name("Fenceable").Bool(o.fenceable)
	json.Name("Tiling").String(o.tiling.String())
	json.Name("Madvise").String(o.madv.String())
	json.Name("CacheLevel").String(o.cacheLevel.String())

	if o.active {
		json.Name("Engine").String(o.engine.String())
		json.Name("LastSeqno").Int(int(o.lastSeqno))
	}
	if o.fence != NoFence {
		json.Name("Fence").Int(o.fence)
	}
	if o.list != nil {
		json.Name("List").String(o.list.kind.String())
	}
}
