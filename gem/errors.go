package gem

import "github.com/cockroachdb/errors"

var (
	// ErrNoMemory indicates that backing pages or an object record could not be allocated
	ErrNoMemory = errors.New("out of memory")
	// ErrNoSpace indicates that the aperture could not fit a binding even after eviction
	ErrNoSpace = errors.New("no space left in aperture")
	// ErrBusy indicates that a pin (object or fence) prevents the operation, or that a wait timed out
	ErrBusy = errors.New("resource busy")
	// ErrDeviceWedged is returned by every waiting operation once the device has hung, until
	// Device.OnDeviceReset is called. It also matches ErrBusy; check for it first, since unlike
	// other busy errors it is not worth retrying.
	ErrDeviceWedged = errors.Mark(errors.New("device is wedged"), ErrBusy)
	// ErrInterrupted indicates that a wait was abandoned because its context was cancelled
	ErrInterrupted = errors.New("wait interrupted")
	// ErrInvalidState indicates a request that violates alignment, tiling, size or lifecycle
	// constraints. It is never worth retrying.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidHandle indicates a handle that does not name a live object. It also matches
	// ErrInvalidState.
	ErrInvalidHandle = errors.Mark(errors.New("invalid handle"), ErrInvalidState)
)

// errPinned is returned when a pinned object is asked to give up its binding. Callers may test it
// against either ErrBusy or ErrInvalidState.
var errPinned = errors.Mark(errors.Wrap(ErrBusy, "object is pinned"), ErrInvalidState)

func interrupted(ctxErr error) error {
	return errors.WithSecondaryError(ErrInterrupted, ctxErr)
}
