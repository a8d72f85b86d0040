package memutils

// Validatable is anything that can check its own bookkeeping. DebugValidate calls Validate on it
// when built with the debug_mem_utils tag.
type Validatable interface {
	Validate() error
}
