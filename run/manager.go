package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dockrion/dockrion/bus"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/internal/telemetry"
	"github.com/dockrion/dockrion/run/executor"
	"github.com/dockrion/dockrion/streamctx"
	"github.com/dockrion/dockrion/streamerr"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultCancelGrace       = 10 * time.Second
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Store    Store
	Bus      *bus.EventBus
	Executor executor.Executor
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics

	// HeartbeatInterval is how often a running run emits a heartbeat
	// event. Zero selects the 15-second default; a negative value
	// disables heartbeats.
	HeartbeatInterval time.Duration
	// MaxRunDuration cancels a run that has been RUNNING longer than
	// this. Zero disables the watchdog.
	MaxRunDuration time.Duration
	// CancelGrace is how long a cooperative cancellation is given to
	// complete before the manager logs that the grace period elapsed.
	// The manager cannot forcibly terminate a goroutine-based execution;
	// this is an observability backstop, not a kill switch.
	CancelGrace time.Duration
}

// Manager is the run lifecycle state machine: PENDING -> RUNNING ->
// exactly one of {COMPLETED, FAILED, CANCELLED}. It owns the single
// commit that persists terminal state and publishes the terminal event,
// so a crash can never leave one without the other half-applied for long:
// the store Transition lands first and the terminal event publish
// immediately follows within the same goroutine, with no intervening
// network hop that can be arbitrarily delayed.
type Manager struct {
	opts ManagerOptions

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	sc              *streamctx.Context
	handle          executor.Handle
	cancelRequested bool
	cancelReason    string
	stopHeartbeat   chan struct{}
}

// NewManager constructs a Manager. Store, Bus, and Executor are required.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("run: store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("run: bus is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("run: executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.CancelGrace == 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	return &Manager{opts: opts, active: make(map[string]*activeRun)}, nil
}

// CreateRun registers a new PENDING run and the bus-mode stream context
// agent code will emit through for its lifetime. An empty runID gets a
// generated UUID so callers that don't care about a specific run
// identifier (e.g. a server creating a run on a client's behalf) don't
// need to generate one themselves.
func (m *Manager) CreateRun(ctx context.Context, runID string, filter *event.Filter) (Record, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rec := Record{
		RunID:     runID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.opts.Store.Create(ctx, rec); err != nil {
		return Record{}, err
	}

	sc := streamctx.NewBus(runID, filter, m.opts.Bus, streamctx.WithLogger(m.opts.Logger))
	m.mu.Lock()
	m.active[runID] = &activeRun{sc: sc, stopHeartbeat: make(chan struct{})}
	m.mu.Unlock()

	return rec, nil
}

// Start transitions a PENDING run to RUNNING, begins executing req's
// callable, and emits the mandatory started event carrying req's
// AgentName, Framework, and Metadata. Completion is observed
// asynchronously; Start itself returns as soon as execution has begun.
func (m *Manager) Start(ctx context.Context, runID string, req executor.StartRequest) error {
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return streamerr.RunNotFound
	}

	if err := m.opts.Store.Transition(ctx, runID, func(r *Record) error {
		if r.Status != StatusPending {
			return streamerr.AlreadyTerminal
		}
		now := time.Now().UTC()
		r.Status = StatusRunning
		r.StartedAt = &now
		return nil
	}); err != nil {
		return err
	}

	if err := ar.sc.EmitStarted(ctx, req.AgentName, req.Framework, req.Metadata); err != nil {
		m.opts.Logger.Warn(ctx, "failed to emit started event", "run_id", runID, "error", err.Error())
	}

	req.RunID = runID
	runCtx := streamctx.With(ctx, ar.sc)
	handle, err := m.opts.Executor.Start(runCtx, req)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ar.handle = handle
	m.mu.Unlock()

	go m.awaitCompletion(runID, ar)
	if m.opts.HeartbeatInterval > 0 {
		go m.heartbeatLoop(runID, ar)
	}
	if m.opts.MaxRunDuration > 0 {
		go m.watchdog(runID, ar)
	}

	return nil
}

func (m *Manager) awaitCompletion(runID string, ar *activeRun) {
	ctx := context.Background()
	result, err := ar.handle.Wait(ctx)

	m.mu.Lock()
	cancelRequested := ar.cancelRequested
	cancelReason := ar.cancelReason
	close(ar.stopHeartbeat)
	delete(m.active, runID)
	m.mu.Unlock()

	var status Status
	var resultErr *ResultError
	switch {
	case cancelRequested && (err == nil || errors.Is(err, context.Canceled)):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
		resultErr = &ResultError{Message: err.Error(), Code: "execution_error"}
	default:
		status = StatusCompleted
	}

	now := time.Now().UTC()
	txErr := m.opts.Store.Transition(ctx, runID, func(r *Record) error {
		if r.Status.IsTerminal() {
			return streamerr.AlreadyTerminal
		}
		r.Status = status
		r.FinishedAt = &now
		r.Result = result
		r.Error = resultErr
		return nil
	})
	if txErr != nil {
		m.opts.Logger.Error(ctx, "failed to commit terminal run state", "run_id", runID, "error", txErr.Error())
		return
	}

	switch status {
	case StatusCompleted:
		_ = ar.sc.EmitComplete(ctx, result, 0, nil)
	case StatusCancelled:
		_ = ar.sc.EmitCancelled(ctx, cancelReason)
	case StatusFailed:
		_ = ar.sc.EmitError(ctx, resultErr.Message, resultErr.Code, nil)
	}
}

func (m *Manager) heartbeatLoop(runID string, ar *activeRun) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-ar.stopHeartbeat:
			return
		case <-ticker.C:
			ar.sc.EmitHeartbeatAsync(ctx)
		}
	}
}

func (m *Manager) watchdog(runID string, ar *activeRun) {
	timer := time.NewTimer(m.opts.MaxRunDuration)
	defer timer.Stop()
	select {
	case <-ar.stopHeartbeat:
		return
	case <-timer.C:
		_ = m.Cancel(context.Background(), runID, "max_run_duration_exceeded")
	}
}

// Cancel requests cooperative cancellation of a run. If the run has not
// started executing yet, it is transitioned directly to CANCELLED. If it
// is already running, its execution context is cancelled and the manager
// waits up to CancelGrace before logging that the grace period elapsed;
// the actual CANCELLED transition still happens in awaitCompletion once
// the callable returns, since the manager cannot forcibly kill a
// goroutine that ignores its context.
func (m *Manager) Cancel(ctx context.Context, runID string, reason string) error {
	m.mu.Lock()
	ar, ok := m.active[runID]
	if !ok {
		m.mu.Unlock()
		rec, err := m.opts.Store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return streamerr.AlreadyTerminal
		}
		return streamerr.RunNotFound
	}
	ar.cancelRequested = true
	ar.cancelReason = reason
	handle := ar.handle
	m.mu.Unlock()

	if handle == nil {
		// Never started: resolve directly without an executor to cancel.
		now := time.Now().UTC()
		if err := m.opts.Store.Transition(ctx, runID, func(r *Record) error {
			if r.Status.IsTerminal() {
				return streamerr.AlreadyTerminal
			}
			r.Status = StatusCancelled
			r.FinishedAt = &now
			return nil
		}); err != nil {
			return err
		}
		m.mu.Lock()
		close(ar.stopHeartbeat)
		delete(m.active, runID)
		m.mu.Unlock()
		return ar.sc.EmitCancelled(ctx, reason)
	}

	handle.Cancel()
	go func() {
		select {
		case <-ar.stopHeartbeat:
		case <-time.After(m.opts.CancelGrace):
			m.opts.Logger.Warn(ctx, "run exceeded cancel grace period", "run_id", runID, "grace", m.opts.CancelGrace.String())
		}
	}()
	return nil
}

// GetStatus returns the current run.Record for runID.
func (m *Manager) GetStatus(ctx context.Context, runID string) (Record, error) {
	return m.opts.Store.Load(ctx, runID)
}

// GetResult returns the stored result or error for a run. Callers should
// check rec.Status.IsTerminal() before relying on Result/Error, since
// both are empty until the run reaches a terminal status.
func (m *Manager) GetResult(ctx context.Context, runID string) (Record, error) {
	return m.opts.Store.Load(ctx, runID)
}
