// Package executor abstracts how a run's agent callable is actually
// executed, isolating that concern from RunManager's lifecycle state
// machine so alternative execution strategies can be substituted without
// touching lifecycle code.
package executor

import "context"

// Callable is the agent entry point a run executes. It must observe
// ctx.Done() at reasonable suspension points to support cooperative
// cancellation; Callable itself is also free to finish normally before
// ever observing cancellation.
type Callable func(ctx context.Context) (result any, err error)

// StartRequest describes a single run execution.
type StartRequest struct {
	RunID    string
	Callable Callable

	// AgentName and Framework identify the agent code driving this run,
	// and are carried into the run's mandatory started event. Both are
	// optional; an empty value is emitted as-is.
	AgentName string
	Framework string
	// Metadata is attached to the started event verbatim.
	Metadata map[string]any
}

// Handle lets the run manager wait for completion or request cancellation
// of a started execution.
type Handle interface {
	// Wait blocks until the callable returns or ctx is done, whichever
	// comes first.
	Wait(ctx context.Context) (result any, err error)
	// Cancel requests cooperative cancellation by cancelling the context
	// passed to the callable. It does not block until the callable
	// actually exits.
	Cancel()
}

// Executor starts a Callable and returns a Handle to it.
type Executor interface {
	Start(ctx context.Context, req StartRequest) (Handle, error)
}
