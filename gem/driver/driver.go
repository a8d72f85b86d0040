package driver

//go:generate mockgen -destination ./mocks/hardware.go -package mocks github.com/vkngwrapper/gem/gem/driver Hardware

// ObjectID identifies a graphics object to the collaborators below. It carries the same value as
// the gem.Handle the object was created under.
type ObjectID uint32

// PageProvider owns the physical pages backing graphics objects
type PageProvider interface {
	// WirePages makes count pages resident for the object and returns them in order
	WirePages(object ObjectID, count int) ([]Page, error)
	// UnwirePages returns wired pages to the system. dirty reports whether the pages were written
	// while they were resident.
	UnwirePages(object ObjectID, pages []Page, dirty bool)
	// DiscardPages irrevocably drops the object's backing storage
	DiscardPages(object ObjectID)
	// FlushCache writes back and invalidates the CPU cache lines covering the provided pages
	FlushCache(pages []Page)
}

// Translation programs the device-visible translation table behind the aperture
type Translation interface {
	InsertEntries(offset int, pages []Page, level CacheLevel) error
	ClearRange(offset int, size int)
	// MemoryBarrier makes CPU writes through the aperture visible to the device, and vice versa
	MemoryBarrier()
	ChipsetFlush()
}

// CommandStreamer is the slice of ring submission the memory manager depends on
type CommandStreamer interface {
	EmitFlush(engine EngineID, invalidate Domains, flush Domains) error
	// EmitRequest writes a breadcrumb for seqno into the engine's ring and returns the ring tail
	EmitRequest(engine EngineID, seqno uint32) (uint32, error)
	// CompletedSeqno reads the last sequence number the hardware reported as complete
	CompletedSeqno(engine EngineID) uint32
	EnableInterrupts(engine EngineID)
	DisableInterrupts(engine EngineID)
}

// FenceRegisters writes tiling fence registers, either immediately through MMIO or pipelined
// through an engine's ring
type FenceRegisters interface {
	WriteFence(slot int, value FenceValue)
	EmitFenceWrite(engine EngineID, slot int, value FenceValue) error
}

// UserMappings tears down CPU mappings of the aperture that user code faulted in
type UserMappings interface {
	RevokeMapping(object ObjectID)
}

// ResetTrigger asks the hang-recovery path to reset the device
type ResetTrigger interface {
	RequestReset(reason string)
}

// Hardware bundles every collaborator a gem.Device consumes
type Hardware interface {
	PageProvider
	Translation
	CommandStreamer
	FenceRegisters
	UserMappings
	ResetTrigger
}
