package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSnapshot is returned by Apply when there is no raw snapshot.
	ErrNoSnapshot = errors.New("no snapshot available")

	// ErrMalformedSnapshot is wrapped by every MappingError.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// MappingError describes a raw snapshot that could not be mapped.
type MappingError struct {
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("map snapshot: %s: %v", e.Reason, e.Err)
	}
	return "map snapshot: " + e.Reason
}

// Unwrap returns the cause, or ErrMalformedSnapshot when there is none.
func (e *MappingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedSnapshot, e.Err}
	}
	return []error{ErrMalformedSnapshot}
}
