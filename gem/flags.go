package gem

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific device behaviors to activate or deactivate
type CreateFlags int32

var deviceCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	deviceCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return deviceCreateFlagsMapping.FlagsToString(f)
}

const (
	// DeviceCreateNoRetireWorker prevents New from starting the background goroutine that retires
	// requests and drains the deferred-destroy queue. The consumer must call Device.RetireAll and
	// Device.FreeDeferred itself.
	DeviceCreateNoRetireWorker CreateFlags = 1 << iota
	// DeviceCreateNoHangcheck keeps the retire worker from declaring the device wedged when an
	// engine stops making progress
	DeviceCreateNoHangcheck
)

func init() {
	DeviceCreateNoRetireWorker.Register("DeviceCreateNoRetireWorker")
	DeviceCreateNoHangcheck.Register("DeviceCreateNoHangcheck")
}

// Madvise is the advisory policy for an object's backing pages
type Madvise int

const (
	// MadviseWillNeed pages must be preserved
	MadviseWillNeed Madvise = iota
	// MadviseDontNeed pages may be discarded the next time the object loses its binding
	MadviseDontNeed
	// MadvisePurged pages have been discarded. This is terminal.
	MadvisePurged
)

var madviseMapping = map[Madvise]string{
	MadviseWillNeed: "WillNeed",
	MadviseDontNeed: "DontNeed",
	MadvisePurged:   "Purged",
}

func (m Madvise) String() string {
	str, ok := madviseMapping[m]
	if !ok {
		return fmt.Sprintf("Madvise(%d)", int(m))
	}
	return str
}

// Tiling is the surface layout of an object, which determines how a fence register decodes it
type Tiling int

const (
	TilingNone Tiling = iota
	TilingX
	TilingY
)

var tilingMapping = map[Tiling]string{
	TilingNone: "None",
	TilingX:    "X",
	TilingY:    "Y",
}

func (t Tiling) String() string {
	str, ok := tilingMapping[t]
	if !ok {
		return fmt.Sprintf("Tiling(%d)", int(t))
	}
	return str
}

type objectState int

const (
	objectStateLive objectState = iota
	objectStatePendingDestroy
)
