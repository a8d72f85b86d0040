package driver

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
)

// EngineID names one of the device's hardware command streamers
type EngineID int

const (
	// EngineNone is used where an operation is not tied to any engine
	EngineNone EngineID = iota - 1
	EngineRender
	EngineBSD
	EngineBLT

	EngineCount int = iota - 1
)

var engineMapping = map[EngineID]string{
	EngineNone:   "None",
	EngineRender: "Render",
	EngineBSD:    "BSD",
	EngineBLT:    "BLT",
}

func (e EngineID) String() string {
	str, ok := engineMapping[e]
	if !ok {
		return fmt.Sprintf("EngineID(%d)", int(e))
	}
	return str
}

// Domains is a set of coherency domains: places that may hold a valid copy of an object's bytes
type Domains uint32

var domainsMapping = common.NewFlagStringMapping[Domains]()

func (d Domains) Register(str string) {
	domainsMapping.Register(d, str)
}
func (d Domains) String() string {
	return domainsMapping.FlagsToString(d)
}

const (
	DomainCPU Domains = 1 << iota
	DomainRender
	DomainSampler
	DomainCommand
	DomainInstruction
	DomainVertex
	DomainGTT

	// GPUDomains are the domains owned by an engine rather than by the CPU or the aperture
	GPUDomains = DomainRender | DomainSampler | DomainCommand | DomainInstruction | DomainVertex
)

func init() {
	DomainCPU.Register("CPU")
	DomainRender.Register("Render")
	DomainSampler.Register("Sampler")
	DomainCommand.Register("Command")
	DomainInstruction.Register("Instruction")
	DomainVertex.Register("Vertex")
	DomainGTT.Register("GTT")
}

// CacheLevel describes how the CPU cache relates to an object's pages
type CacheLevel int

const (
	// CacheLevelNone pages are not snooped: CPU cache lines must be flushed by hand
	CacheLevelNone CacheLevel = iota
	// CacheLevelLLC pages are coherent with the last-level cache
	CacheLevelLLC
)

var cacheLevelMapping = map[CacheLevel]string{
	CacheLevelNone: "None",
	CacheLevelLLC:  "LLC",
}

func (l CacheLevel) String() string {
	return cacheLevelMapping[l]
}

// Page is a physical page frame number
type Page uint64

// FenceValue is a fully-encoded fence register write: the register's MMIO offset and the value
// to place there
type FenceValue struct {
	Register uint32
	Value    uint64
}
