package gem

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gem/gem/driver"
)

type flushCall struct {
	engine     driver.EngineID
	invalidate driver.Domains
	flush      driver.Domains
}

type fenceWrite struct {
	slot      int
	value     driver.FenceValue
	pipelined bool
	engine    driver.EngineID
}

// fakeHardware is a driver.Hardware that records everything the device asks of it. Seqnos only
// complete when a test says so, unless autoComplete is set.
type fakeHardware struct {
	mutex sync.Mutex

	completed    [driver.EngineCount]uint32
	emitted      [driver.EngineCount][]uint32
	irqEnabled   [driver.EngineCount]bool
	autoComplete bool
	requestErr   error

	nextPage driver.Page
	wired    map[driver.ObjectID][]driver.Page
	wireErr  error

	cacheFlushes   int
	chipsetFlushes int
	barriers       int
	inserted       int
	cleared        int
	discarded      []driver.ObjectID
	unwiredDirty   []driver.ObjectID

	gpuFlushes  []flushCall
	fenceWrites []fenceWrite
	revoked     []driver.ObjectID
	resets      []string
}

var _ driver.Hardware = &fakeHardware{}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		nextPage: 0x1000,
		wired:    make(map[driver.ObjectID][]driver.Page),
	}
}

func (h *fakeHardware) WirePages(object driver.ObjectID, count int) ([]driver.Page, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.wireErr != nil {
		return nil, h.wireErr
	}

	pages := make([]driver.Page, count)
	for i := range pages {
		pages[i] = h.nextPage
		h.nextPage++
	}
	h.wired[object] = pages
	return pages, nil
}

func (h *fakeHardware) UnwirePages(object driver.ObjectID, pages []driver.Page, dirty bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	delete(h.wired, object)
	if dirty {
		h.unwiredDirty = append(h.unwiredDirty, object)
	}
}

func (h *fakeHardware) DiscardPages(object driver.ObjectID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.discarded = append(h.discarded, object)
}

func (h *fakeHardware) FlushCache(pages []driver.Page) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.cacheFlushes++
}

func (h *fakeHardware) InsertEntries(offset int, pages []driver.Page, level driver.CacheLevel) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.inserted++
	return nil
}

func (h *fakeHardware) ClearRange(offset int, size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.cleared++
}

func (h *fakeHardware) MemoryBarrier() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.barriers++
}

func (h *fakeHardware) ChipsetFlush() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.chipsetFlushes++
}

func (h *fakeHardware) EmitFlush(engine driver.EngineID, invalidate driver.Domains, flush driver.Domains) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.gpuFlushes = append(h.gpuFlushes, flushCall{engine: engine, invalidate: invalidate, flush: flush})
	return nil
}

func (h *fakeHardware) EmitRequest(engine driver.EngineID, seqno uint32) (uint32, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.requestErr != nil {
		return 0, h.requestErr
	}

	h.emitted[engine] = append(h.emitted[engine], seqno)
	if h.autoComplete {
		h.completed[engine] = seqno
	}
	return uint32(len(h.emitted[engine]) * 32), nil
}

func (h *fakeHardware) CompletedSeqno(engine driver.EngineID) uint32 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.completed[engine]
}

func (h *fakeHardware) EnableInterrupts(engine driver.EngineID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.irqEnabled[engine] = true
}

func (h *fakeHardware) DisableInterrupts(engine driver.EngineID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.irqEnabled[engine] = false
}

func (h *fakeHardware) WriteFence(slot int, value driver.FenceValue) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.fenceWrites = append(h.fenceWrites, fenceWrite{slot: slot, value: value, engine: driver.EngineNone})
}

func (h *fakeHardware) EmitFenceWrite(engine driver.EngineID, slot int, value driver.FenceValue) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.fenceWrites = append(h.fenceWrites, fenceWrite{slot: slot, value: value, pipelined: true, engine: engine})
	return nil
}

func (h *fakeHardware) RevokeMapping(object driver.ObjectID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.revoked = append(h.revoked, object)
}

func (h *fakeHardware) RequestReset(reason string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.resets = append(h.resets, reason)
}

func (h *fakeHardware) complete(engine driver.EngineID, seqno uint32) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.completed[engine] = seqno
}

func (h *fakeHardware) setAutoComplete(enabled bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.autoComplete = enabled
}

func (h *fakeHardware) interruptsEnabled(engine driver.EngineID) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.irqEnabled[engine]
}

func (h *fakeHardware) emittedCount(engine driver.EngineID) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.emitted[engine])
}

func (h *fakeHardware) counters() (cacheFlushes, chipsetFlushes, barriers int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.cacheFlushes, h.chipsetFlushes, h.barriers
}

func (h *fakeHardware) lastFenceWrite() fenceWrite {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.fenceWrites[len(h.fenceWrites)-1]
}

var errWireFailed = errors.New("no pages available")

// requireIs checks err against a sentinel the way callers are expected to, following marks as
// well as wrapping
func requireIs(t *testing.T, err error, target error) {
	t.Helper()

	require.Error(t, err)
	require.Truef(t, errors.Is(err, target), "%+v is not %v", err, target)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDevice builds a device without a retire worker. On cleanup every outstanding seqno is
// allowed to complete so Close can release everything.
func newTestDevice(t *testing.T, hw *fakeHardware, options CreateOptions) *Device {
	t.Helper()

	options.Flags |= DeviceCreateNoRetireWorker
	if options.Logger == nil {
		options.Logger = testLogger()
	}

	device, err := New(hw, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		hw.setAutoComplete(true)
		for _, eng := range device.engines {
			if eng == nil {
				continue
			}
			if last := eng.lastRequest(); last != nil {
				hw.complete(eng.id, last.seqno)
			}
		}
		require.NoError(t, device.Close(context.Background()))
	})

	return device
}

func createBound(t *testing.T, d *Device, size int, mappable bool) Handle {
	t.Helper()

	h, err := d.Create(size)
	require.NoError(t, err)

	_, err = d.Bind(context.Background(), h, 0, mappable)
	require.NoError(t, err)

	return h
}

// makeActive marks the object as referenced by a new request on the engine and submits it
func makeActive(t *testing.T, d *Device, h Handle, engine driver.EngineID) uint32 {
	t.Helper()

	seqno, err := d.NextSeqno(engine)
	require.NoError(t, err)
	require.NoError(t, d.MoveToActive(h, engine, seqno))

	_, err = d.SubmitRequest(engine, nil)
	require.NoError(t, err)
	return seqno
}

func objectInfo(t *testing.T, d *Device, h Handle) ObjectInfo {
	t.Helper()

	info, err := d.Object(h)
	require.NoError(t, err)
	return info
}

func (h *fakeHardware) resetsRequested() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]string(nil), h.resets...)
}
