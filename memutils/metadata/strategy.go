package metadata

// AllocationStrategy selects how a free range is chosen for a new allocation. Callers may combine
// several; the metadata picks among them. With none set, MinMemory is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory picks the smallest free range that fits, keeping large holes intact
	// for later fence-sized bindings.
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime takes the first fitting range found in the free lists.
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset walks every free range from offset zero and takes the lowest one
	// that fits. It is slow but finds space the bucketed search skips, so the aperture falls back to
	// it before evicting.
	AllocationStrategyMinOffset
)
