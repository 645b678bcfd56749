package store

import "time"

// ProjectionCheckpoint tracks the durable progress of one projection.
// One row exists per registered projection; the row survives process
// restarts and is the crash-recovery point for replay.
type ProjectionCheckpoint struct {
	ProjectionName string

	// Position is the global position of the newest event this
	// projection has durably applied. Non-decreasing except on Reset.
	Position int64

	// Running governs whether the scheduler dispatches events to this
	// projection on the next cycle.
	Running bool

	// ErrorCount counts consecutive handler failures since the last
	// successful apply or explicit reset.
	ErrorCount int

	// LastError holds the most recent handler error message, if any.
	LastError string

	LastProcessedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Ensure creates the checkpoint row for a projection if it does
	// not exist (position 0, not running, zero errors). Idempotent:
	// an existing row is never modified.
	Ensure(projectionName string) error

	// Load loads the checkpoint for a projection.
	// Returns ErrCheckpointNotFound if no row exists.
	Load(projectionName string) (*ProjectionCheckpoint, error)

	// LoadAll returns all checkpoint rows, ordered by projection name.
	LoadAll() ([]*ProjectionCheckpoint, error)

	// Save persists position, error state and timestamps in one
	// durable write.
	Save(checkpoint *ProjectionCheckpoint) error

	// SetRunning flips the running flag for a projection.
	SetRunning(projectionName string, running bool) error

	// Reset zeroes position and error state for a projection,
	// forcing a full replay on the next cycle.
	Reset(projectionName string) error
}
