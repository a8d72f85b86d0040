package gem

import (
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/memutils/metadata"
)

// Handle names a graphics object. The zero Handle is never issued.
type Handle uint32

// NoFence is the fence slot of an object that does not hold a fence register
const NoFence = -1

// Object is one unit of GPU-addressable memory. All fields are protected by the owning Device's
// lock.
type Object struct {
	handle Handle
	size   int
	pages  []driver.Page
	dirty  bool

	readDomains driver.Domains
	writeDomain driver.Domains

	bound          bool
	offset         int
	boundSize      int
	mappable       bool
	fenceable      bool
	alloc          metadata.BlockAllocationHandle
	bindGeneration uint64

	pinCount  int
	active    bool
	engine    driver.EngineID
	lastSeqno uint32
	fence     int

	madv       Madvise
	cacheLevel driver.CacheLevel
	tiling     Tiling
	stride     int

	refCount    int
	state       objectState
	userFaulted bool

	list *objectList
}

func newObject(handle Handle, size int) *Object {
	return &Object{
		handle:      handle,
		size:        size,
		readDomains: driver.DomainCPU,
		writeDomain: driver.DomainCPU,
		alloc:       metadata.NoAllocation,
		engine:      driver.EngineNone,
		fence:       NoFence,
		madv:        MadviseWillNeed,
		cacheLevel:  driver.CacheLevelNone,
		tiling:      TilingNone,
		refCount:    1,
		state:       objectStateLive,
	}
}

func (o *Object) Handle() Handle { return o.handle }
func (o *Object) Size() int      { return o.size }

// flushing reports whether the object's rendering has completed but a GPU write domain still
// needs to be flushed
func (o *Object) flushing() bool {
	return o.list != nil && o.list.kind == listFlushing
}

// ObjectInfo is a point-in-time copy of an object's bookkeeping
type ObjectInfo struct {
	Handle      Handle
	Size        int
	ReadDomains driver.Domains
	WriteDomain driver.Domains

	Bound      bool
	Offset     int
	BoundSize  int
	Mappable   bool
	Fenceable  bool
	PinCount   int
	Active     bool
	Flushing   bool
	Engine     driver.EngineID
	LastSeqno  uint32
	Fence      int
	Madvise    Madvise
	CacheLevel driver.CacheLevel
	Tiling     Tiling
	Stride     int

	RefCount       int
	PendingDestroy bool
	PagesWired     bool
}

func (o *Object) info() ObjectInfo {
	return ObjectInfo{
		Handle:         o.handle,
		Size:           o.size,
		ReadDomains:    o.readDomains,
		WriteDomain:    o.writeDomain,
		Bound:          o.bound,
		Offset:         o.offset,
		BoundSize:      o.boundSize,
		Mappable:       o.mappable,
		Fenceable:      o.fenceable,
		PinCount:       o.pinCount,
		Active:         o.active,
		Flushing:       o.flushing(),
		Engine:         o.engine,
		LastSeqno:      o.lastSeqno,
		Fence:          o.fence,
		Madvise:        o.madv,
		CacheLevel:     o.cacheLevel,
		Tiling:         o.tiling,
		Stride:         o.stride,
		RefCount:       o.refCount,
		PendingDestroy: o.state == objectStatePendingDestroy,
		PagesWired:     o.pages != nil,
	}
}
