// Package streamerr defines the shared error taxonomy used across the
// event streaming core: backends, the run manager, and stream contexts all
// classify failures in terms of these sentinels so callers can branch with
// errors.Is regardless of which component produced the error.
package streamerr

import "errors"

var (
	// BackendUnavailable signals a transient backend fault. The Redis
	// backend retries a publish up to a bounded budget before returning
	// it; fire-and-forget emits then convert it into a producer-side error
	// event.
	BackendUnavailable = errors.New("streamerr: backend unavailable")

	// StreamFull signals that a run's per-stream cap has been reached.
	// Oldest non-mandatory events are evicted; this is never surfaced to
	// the producer as a failure.
	StreamFull = errors.New("streamerr: stream full")

	// RunNotFound signals an operation on an unknown run ID. Never
	// retried; returned to the caller as a not-found condition.
	RunNotFound = errors.New("streamerr: run not found")

	// AlreadyTerminal signals a publish attempted after a terminal event
	// has already been recorded for the run. The event is dropped.
	AlreadyTerminal = errors.New("streamerr: run already terminal")

	// CancelRequested is a signal carrier, not a failure: it flows through
	// the cooperative cancellation path so agent code can detect a
	// cancellation request at a suspension point.
	CancelRequested = errors.New("streamerr: cancel requested")

	// FilterRejected signals an event not allowed by the active filter.
	// The event is dropped silently; callers must never log this at
	// warning level or higher.
	FilterRejected = errors.New("streamerr: event rejected by filter")
)
