// Package projection implements the event-sourced projection runtime:
// a registry of named projections, durable per-projection checkpoints,
// a polling scheduler that replays the event log into each projection,
// and a circuit breaker against persistent handler failures.
package projection

import (
	"context"

	"github.com/stillpoint/stillpoint/pkg/store"
)

// Projection builds a read model from events. The runtime feeds each
// projection events in strictly increasing position order and tracks
// its progress in a durable checkpoint.
//
// Delivery is at-least-once: a crash or failed checkpoint write between
// apply and persist causes already-applied events to be redelivered on
// the next cycle. Handlers must therefore be idempotent.
type Projection interface {
	// Name returns the unique, stable name of this projection.
	// It keys the checkpoint row and must not change across restarts.
	Name() string

	// Handle applies one event to the read model. Returning an error
	// counts toward the projection's circuit-breaker threshold.
	Handle(ctx context.Context, event *store.StoredEvent) error
}

// HandlerFunc is a typed event handler registration for Builder.
type HandlerFunc func(ctx context.Context, event *store.StoredEvent) error

// Builder provides a fluent API for projections that route on event type.
// Events with no registered handler are skipped (the checkpoint still
// advances past them).
type Builder struct {
	name     string
	handlers map[string]HandlerFunc
}

// NewBuilder creates a builder for a projection with the given name.
//
// Example:
//
//	p := projection.NewBuilder("habit-streaks").
//	    On("habit.CheckedIn", onCheckedIn).
//	    On("habit.Archived", onArchived).
//	    Build()
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		handlers: make(map[string]HandlerFunc),
	}
}

// On registers a handler for an event type. Registering the same type
// twice replaces the previous handler.
func (b *Builder) On(eventType string, handler HandlerFunc) *Builder {
	b.handlers[eventType] = handler
	return b
}

// Build creates the final Projection implementation.
func (b *Builder) Build() Projection {
	return &routedProjection{
		name:     b.name,
		handlers: b.handlers,
	}
}

// routedProjection implements Projection by dispatching on event type.
type routedProjection struct {
	name     string
	handlers map[string]HandlerFunc
}

func (p *routedProjection) Name() string {
	return p.name
}

func (p *routedProjection) Handle(ctx context.Context, event *store.StoredEvent) error {
	handler, exists := p.handlers[event.EventType]
	if !exists {
		// No handler registered for this event type - skip it
		return nil
	}
	return handler(ctx, event)
}
