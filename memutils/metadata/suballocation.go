package metadata

import "math"

// BlockAllocationHandle identifies one live range inside a block. Handles are issued from a
// counter and never reused while the metadata lives.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
