// Package goroutine is the default executor.Executor: every run's
// Callable executes on its own goroutine inside the host process. Unlike
// the teacher's in-memory engine, whose Cancel is a documented no-op
// stub, this executor wires cancellation all the way through: Cancel
// cancels the context.Context handed to the Callable, so any Callable
// that observes ctx honors cooperative cancellation for real.
package goroutine

import (
	"context"
	"sync"

	"github.com/dockrion/dockrion/run/executor"
)

// Executor runs callables on goroutines of the host process.
type Executor struct{}

var _ executor.Executor = (*Executor)(nil)

// New returns a goroutine-backed Executor.
func New() *Executor {
	return &Executor{}
}

// Start implements executor.Executor.
func (e *Executor) Start(ctx context.Context, req executor.StartRequest) (executor.Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(h.done)
		result, err := req.Callable(runCtx)
		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
	}()

	return h, nil
}

type handle struct {
	mu     sync.Mutex
	done   chan struct{}
	result any
	err    error
	cancel context.CancelFunc
}

var _ executor.Handle = (*handle)(nil)

func (h *handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *handle) Cancel() {
	h.cancel()
}
