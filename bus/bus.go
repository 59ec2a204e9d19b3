// Package bus provides the EventBus facade over pluggable storage/fan-out
// backends (in-memory, Redis Streams). The facade carries no state of its
// own beyond a Backend reference: it exists so producers and subscribers
// depend on a uniform API regardless of which backend is configured.
package bus

import (
	"context"

	"github.com/dockrion/dockrion/event"
)

// Backend is the capability set a storage/fan-out substrate must provide.
// Implementations are swapped via configuration, never via inheritance.
type Backend interface {
	// Publish persists ev for runID and fans it out to any live
	// subscribers. Must be safe for concurrent callers.
	Publish(ctx context.Context, runID string, ev event.Event) error

	// Subscribe opens a subscription that first yields all stored events
	// with sequence >= fromSequence, then live events as they are
	// published, until the terminal event is observed or the
	// subscription is closed.
	Subscribe(ctx context.Context, runID string, fromSequence int64) (*Subscription, error)

	// GetEvents performs a one-shot query with no live tail. limit <= 0
	// means unbounded.
	GetEvents(ctx context.Context, runID string, fromSequence int64, limit int) ([]event.Event, error)

	// Trim deletes all events stored for runID.
	Trim(ctx context.Context, runID string) error
}

// EventBus is the uniform facade agents and the run manager use regardless
// of backend.
type EventBus struct {
	backend Backend
}

// New constructs an EventBus backed by the given Backend.
func New(backend Backend) *EventBus {
	return &EventBus{backend: backend}
}

// Publish persists and fans out ev for runID.
func (b *EventBus) Publish(ctx context.Context, runID string, ev event.Event) error {
	return b.backend.Publish(ctx, runID, ev)
}

// Subscribe opens a subscription to runID's event stream starting at
// fromSequence (0 for full replay from the beginning).
func (b *EventBus) Subscribe(ctx context.Context, runID string, fromSequence int64) (*Subscription, error) {
	return b.backend.Subscribe(ctx, runID, fromSequence)
}

// GetEvents returns a finite slice of stored events with no live tail.
func (b *EventBus) GetEvents(ctx context.Context, runID string, fromSequence int64, limit int) ([]event.Event, error) {
	return b.backend.GetEvents(ctx, runID, fromSequence, limit)
}

// Trim deletes all events stored for runID. Used by the run manager on run
// deletion.
func (b *EventBus) Trim(ctx context.Context, runID string) error {
	return b.backend.Trim(ctx, runID)
}
