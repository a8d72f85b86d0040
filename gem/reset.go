package gem

// SetWedged declares the device hung. Every wait in progress returns ErrDeviceWedged, as does
// every wait started before OnDeviceReset. It does not take the device lock.
func (d *Device) SetWedged() {
	d.logger.Debug("Device::SetWedged")
	d.setWedged()
}

func (d *Device) setWedged() {
	if !d.wedged.CompareAndSwap(false, true) {
		return
	}

	d.wedgeEvent.Signal()
	for _, eng := range d.engines {
		if eng != nil {
			eng.event.Signal()
		}
	}
}

// OnDeviceReset is called once the hardware has been reset. Every outstanding request is dropped
// as if it had completed, and waiters on those seqnos return, every object the GPU was using goes idle without any GPU domain, the
// fence registers are reprogrammed and the device stops being wedged.
func (d *Device) OnDeviceReset() {
	d.logger.Debug("Device::OnDeviceReset")

	d.lock.Lock()
	defer d.lock.Unlock()

	for _, eng := range d.engines {
		if eng == nil {
			continue
		}

		for elem := eng.requests.Front(); elem != nil; elem = elem.Next() {
			elem.Value.(*Request).detachClient()
		}
		eng.requests.Init()

		eng.lazySeqno = 0
		eng.resetSeqno = d.seqno
		eng.hangcheckSeqno = d.hw.CompletedSeqno(eng.id)
		eng.hangcheckTicks = 0
	}

	// Whatever the GPU caches held is gone, idle objects included
	for _, o := range d.boundObjects() {
		d.abandonGPUState(o)
	}

	d.restoreFences()

	d.wedged.Store(false)
	d.wedgeEvent.Signal()
	for _, eng := range d.engines {
		if eng != nil {
			eng.event.Signal()
		}
	}
}
