package manager

import "errors"

var (
	ErrNotFound       = errors.New("task not found")
	ErrNotCancellable = errors.New("task cannot be cancelled")
)

// ValidationError rejects a bad job descriptor at creation time, before any
// task is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid job request: " + e.Reason
}
