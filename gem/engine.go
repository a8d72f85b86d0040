package gem

import (
	"container/list"

	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/gem/internal/utils"
)

// engine is the bookkeeping for one command streamer
type engine struct {
	id driver.EngineID
	// active holds objects referenced by outstanding requests, in seqno order
	active *objectList
	// requests holds *Request in submission order
	requests list.List
	// lazySeqno is the seqno handed out for work that has not been submitted yet, or 0
	lazySeqno uint32
	// resetSeqno is the last seqno handed out before a device reset, or 0. Everything up to it
	// counts as complete until the hardware catches up.
	resetSeqno uint32

	irqRefs int
	event   *utils.Event

	hangcheckSeqno uint32
	hangcheckTicks int
}

func newEngine(id driver.EngineID) *engine {
	eng := &engine{
		id:    id,
		event: utils.NewEvent(),
	}
	eng.active = newObjectList(listActive)
	eng.active.engine = eng
	return eng
}

func (e *engine) lastRequest() *Request {
	elem := e.requests.Back()
	if elem == nil {
		return nil
	}
	return elem.Value.(*Request)
}

func (e *engine) busy() bool {
	return e.requests.Len() > 0 || e.active.len() > 0
}

// seqnoPassed reports whether seqno a is at or after seqno b, treating the counter as a 32-bit
// ring
func seqnoPassed(a, b uint32) bool {
	return int32(a-b) >= 0
}

// completedSeqno is the engine's completed seqno, with requests lost to a reset counted as done
func (d *Device) completedSeqno(eng *engine) uint32 {
	completed := d.hw.CompletedSeqno(eng.id)
	if eng.resetSeqno == 0 {
		return completed
	}
	if seqnoPassed(completed, eng.resetSeqno) {
		eng.resetSeqno = 0
		return completed
	}
	return eng.resetSeqno
}

func (d *Device) irqGet(eng *engine) {
	if eng.irqRefs == 0 {
		d.hw.EnableInterrupts(eng.id)
	}
	eng.irqRefs++
}

func (d *Device) irqPut(eng *engine) {
	eng.irqRefs--
	if eng.irqRefs == 0 {
		d.hw.DisableInterrupts(eng.id)
	}
}

// NotifyCompletion is called from the interrupt path when an engine's completed seqno may have
// advanced. It wakes every waiter on the engine and never takes the device lock.
func (d *Device) NotifyCompletion(id driver.EngineID) {
	if id < 0 || int(id) >= len(d.engines) || d.engines[id] == nil {
		return
	}
	d.engines[id].event.Signal()
}
