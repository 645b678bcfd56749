package store

import "errors"

var (
	// ErrCheckpointNotFound is returned when no checkpoint row exists
	// for a projection.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
