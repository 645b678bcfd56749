package projection

import "errors"

var (
	// ErrProjectionNotFound is returned when an operation names a
	// projection that was never registered in this process.
	// A checkpoint row alone is not enough; the handler must be
	// present in this process.
	ErrProjectionNotFound = errors.New("projection not found")
)
