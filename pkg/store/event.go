package store

import "time"

// StoredEvent is an event as persisted in the append-only log.
// Events are immutable facts; the projection runtime never mutates them.
type StoredEvent struct {
	// ID is the unique identifier for this event (ULID, sortable).
	ID string

	// StreamID identifies the entity stream this event belongs to
	// (e.g., a habit ID or journal ID).
	StreamID string

	// EventType is the fully qualified type name of the event
	// (e.g., "habit.CheckedIn").
	EventType string

	// Payload is the serialized JSON body of the event.
	Payload []byte

	// Position is the global, strictly increasing log position.
	// It totally orders events across all streams.
	Position int64

	// RecordedAt is when the event was appended.
	RecordedAt time.Time
}

// NewEvent describes an event to be appended. The store assigns
// the ID, position and timestamp.
type NewEvent struct {
	EventType string
	Payload   []byte
}

// EventStore defines the interface for the append-only event log.
type EventStore interface {
	// Append appends events to a stream atomically, assigning each a
	// global position greater than every previously stored event.
	Append(streamID string, events ...NewEvent) error

	// ReadEvents returns up to maxCount events with position strictly
	// greater than afterPosition, in ascending position order.
	// An empty result means the reader is caught up, not an error.
	ReadEvents(afterPosition int64, maxCount int) ([]*StoredEvent, error)

	// Close closes the event store and releases resources.
	Close() error
}
