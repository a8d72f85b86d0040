package metadata

// GranularityCheck lets a consumer forbid certain allocation types from sharing a granule of the block.
// Implementations track which types occupy each granule and push conflicting allocations apart.
type GranularityCheck interface {
	AllocRegions(allocType uint32, offset, size int)
	FreeRegions(offset, size int)
	Clear()
	CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool)
	RoundUpAllocRequest(allocType uint32, allocSize int, allocAlignment uint) (int, uint)
	AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool

	StartValidation() any
	Validate(ctx any, offset, size int) error
	FinishValidation(ctx any) error
}

// NoGranularity is a GranularityCheck for systems where any two allocations may sit side by side
type NoGranularity struct{}

var _ GranularityCheck = NoGranularity{}

func (c NoGranularity) AllocRegions(allocType uint32, offset, size int) {}
func (c NoGranularity) FreeRegions(offset, size int)                    {}
func (c NoGranularity) Clear()                                          {}
func (c NoGranularity) CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	return allocOffset, false
}
func (c NoGranularity) RoundUpAllocRequest(allocType uint32, allocSize int, allocAlignment uint) (int, uint) {
	return allocSize, allocAlignment
}
func (c NoGranularity) AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool {
	return false
}
func (c NoGranularity) StartValidation() any {
	return nil
}
func (c NoGranularity) Validate(ctx any, offset, size int) error {
	return nil
}
func (c NoGranularity) FinishValidation(ctx any) error {
	return nil
}
