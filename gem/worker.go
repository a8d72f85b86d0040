package gem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vkngwrapper/gem/gem/driver"
)

// worker is the background goroutine that keeps bookkeeping moving when nobody is waiting: it
// retires completed requests, flushes pending GPU writes, drains the deferred-destroy queue and
// watches for engines that have stopped making progress
type worker struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func startWorker(d *Device) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go w.run(ctx, d)
	return w
}

func (w *worker) run(ctx context.Context, d *Device) {
	defer close(w.done)

	ticker := time.NewTicker(d.retireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, d.retireInterval)
			d.retireTick(tickCtx)
			cancel()
		}
	}
}

// stop cancels the worker and waits for it to exit. It must not be called with the device lock
// held.
func (w *worker) stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

func (d *Device) retireTick(ctx context.Context) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return
	}

	d.retireAll()

	// Writes parked on the flushing list would otherwise wait for the next domain change
	for _, eng := range d.engines {
		if eng == nil || !d.hasFlushing(eng.id) {
			continue
		}
		if err := d.flushEngine(eng, driver.GPUDomains); err != nil {
			d.logger.Error("could not flush engine", slog.String("Engine", eng.id.String()), slog.Any("error", err))
		}
	}

	if d.flags&DeviceCreateNoHangcheck == 0 {
		d.hangcheck()
	}

	// Failures are logged by the drain and retried next tick
	_ = d.drainDeferred(ctx)
}

func (d *Device) hasFlushing(id driver.EngineID) bool {
	for _, o := range d.flushing.snapshot() {
		if o.engine == id {
			return true
		}
	}
	return false
}

// hangcheck counts, per engine, the ticks during which requests were outstanding but the
// completed seqno did not move. An engine that stalls for hangcheckTicks ticks wedges the device;
// shorter stalls are reported at most once per hangWarningInterval across all engines.
func (d *Device) hangcheck() {
	if d.wedged.Load() {
		return
	}

	var hung []driver.EngineID
	for _, eng := range d.engines {
		if eng == nil {
			continue
		}

		completed := d.hw.CompletedSeqno(eng.id)
		if eng.requests.Len() == 0 {
			eng.hangcheckSeqno = completed
			eng.hangcheckTicks = 0
			continue
		}

		if completed != eng.hangcheckSeqno {
			eng.hangcheckSeqno = completed
			eng.hangcheckTicks = 0
			continue
		}

		eng.hangcheckTicks++
		if eng.hangcheckTicks >= d.hangcheckTicks {
			hung = append(hung, eng.id)
		} else if d.hangLimiter.Allow() {
			d.logger.Warn("engine made no progress",
				slog.String("Engine", eng.id.String()),
				slog.Int("CompletedSeqno", int(completed)),
				slog.Int("Ticks", eng.hangcheckTicks))
		}
	}

	if len(hung) == 0 {
		return
	}

	d.logger.Warn("GPU hang detected, declaring the device wedged", slog.Any("Engines", hung))

	d.setWedged()
	d.hw.RequestReset("GPU hang on " + hung[0].String())
}
