package bus

import (
	"sync"

	"github.com/dockrion/dockrion/event"
)

// Subscription is a live handle to a run's event stream. Events arrive in
// strictly increasing sequence order; Errs carries backend-level faults
// that terminate the subscription (e.g. a Redis read failure). Close is
// idempotent and safe to call from any goroutine; it unregisters the
// subscription from its backend and stops further delivery.
type Subscription struct {
	events chan event.Event
	errs   chan error

	closeOnce sync.Once
	closeFn   func()
}

// NewSubscription constructs a Subscription with the given buffered
// channels. closeFn is invoked exactly once, the first time Close is
// called, and should unregister the subscription from its backend.
func NewSubscription(events chan event.Event, errs chan error, closeFn func()) *Subscription {
	return &Subscription{events: events, errs: errs, closeFn: closeFn}
}

// Events returns the channel of delivered events. It is closed when the
// subscription terminates (terminal event observed, or Close called).
func (s *Subscription) Events() <-chan event.Event {
	return s.events
}

// Errs returns the channel of backend-level errors. At most one error is
// ever sent before the subscription terminates.
func (s *Subscription) Errs() <-chan error {
	return s.errs
}

// Close unregisters the subscription from its backend. Safe to call more
// than once; only the first call has effect.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
	return nil
}
