// Package streamctx provides the producer-side facility agent code uses to
// emit events: StreamContext. It operates in one of two mutually exclusive
// modes set at construction, queue (Pattern A, direct streaming, no server
// storage) or bus (Pattern B, async runs with server-managed lifecycle),
// and the two never share keyspace — a queue-mode context has no path to
// a bus.Backend at all.
package streamctx

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dockrion/dockrion/bus"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/internal/telemetry"
)

// ErrNotQueueMode is returned by DrainQueuedEvents when called on a
// bus-mode context. Bus-mode events are already committed to the bus; they
// have no queue to drain.
var ErrNotQueueMode = errors.New("streamctx: context is not in queue mode")

// Mode identifies which sink a StreamContext writes to.
type Mode string

// Stream context modes.
const (
	ModeQueue Mode = "queue"
	ModeBus   Mode = "bus"
)

// sink is the destination an emitted event is written to. queueSink and
// busSink are the only implementations and are disjoint by construction:
// nothing converts one into the other.
type sink interface {
	send(ctx context.Context, ev event.Event) error
}

type queueSink struct{ q *queue }

func (s *queueSink) send(_ context.Context, ev event.Event) error {
	s.q.append(ev)
	return nil
}

type busSink struct {
	bus   *bus.EventBus
	runID string
}

func (s *busSink) send(ctx context.Context, ev event.Event) error {
	return s.bus.Publish(ctx, s.runID, ev)
}

// Context is the producer API agent code uses to emit events for a run.
// Sequence numbers are assigned only to events that pass the filter,
// keeping the stored/delivered sequence dense: filtered-out events and
// events emitted after the terminal one consume no sequence number.
type Context struct {
	runID  string
	mode   Mode
	filter *event.Filter
	sink   sink
	logger telemetry.Logger

	seq      atomic.Int64
	terminal atomic.Bool

	q *queue // non-nil only in ModeQueue
}

// Option configures optional StreamContext behavior.
type Option func(*Context)

// WithHighWaterMark sets the queue-mode high-water mark (ignored in bus
// mode). Zero means unbounded.
func WithHighWaterMark(n int) Option {
	return func(c *Context) {
		if c.q != nil {
			c.q.highWaterMark = n
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// NewDirect constructs a queue-mode StreamContext for Pattern A (direct,
// in-request streaming). correlationID is a client-supplied correlation
// identifier; it is never stored and has no relationship to any run_id
// known to a bus.Backend.
func NewDirect(correlationID string, filter *event.Filter, opts ...Option) *Context {
	q := newQueue(0)
	c := &Context{
		runID:  correlationID,
		mode:   ModeQueue,
		filter: filter,
		sink:   &queueSink{q: q},
		logger: telemetry.NewNoopLogger(),
		q:      q,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBus constructs a bus-mode StreamContext for Pattern B (async runs
// with server-managed lifecycle, replay, and multi-subscriber fan-out).
func NewBus(runID string, filter *event.Filter, b *bus.EventBus, opts ...Option) *Context {
	c := &Context{
		runID:  runID,
		mode:   ModeBus,
		filter: filter,
		sink:   &busSink{bus: b, runID: runID},
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunID returns the run or correlation identifier this context is bound
// to.
func (c *Context) RunID() string { return c.runID }

// Mode returns whether this context is queue-mode or bus-mode.
func (c *Context) Mode() Mode { return c.mode }

// DrainQueuedEvents atomically removes and returns all currently queued
// events. Valid only in queue mode; bus-mode contexts have no queue to
// drain because their events are already committed to the bus.
func (c *Context) DrainQueuedEvents() ([]event.Event, error) {
	if c.mode != ModeQueue {
		return nil, ErrNotQueueMode
	}
	return c.q.drain(), nil
}

// emit resolves the effective type, applies the filter, assigns a
// sequence, and writes to the configured sink. Filter rejection and
// post-terminal emission are both dropped silently, matching the edge
// cases described for the producer API: no sequence is consumed in either
// case.
func (c *Context) emit(ctx context.Context, typ event.Type, payload any) error {
	if c.terminal.Load() {
		return nil
	}
	if !c.filter.IsAllowed(typ) {
		c.logger.Debug(ctx, "event rejected by filter", "type", string(typ), "run_id", c.runID)
		return nil
	}
	seq := c.seq.Add(1) - 1
	ev := event.Event{
		Type:      typ,
		RunID:     c.runID,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if typ.IsTerminal() {
		c.terminal.Store(true)
	}
	return c.sink.send(ctx, ev)
}

// emitAsync is the fire-and-forget variant: it never raises to the
// caller. A backend failure is logged and, if the run has not yet
// terminated, surfaced once as a synthesized error event.
func (c *Context) emitAsync(ctx context.Context, typ event.Type, payload any) {
	if err := c.emit(ctx, typ, payload); err != nil {
		c.logger.Error(ctx, "fire-and-forget emit failed", "type", string(typ), "run_id", c.runID, "error", err.Error())
		if !c.terminal.Load() {
			_ = c.emit(ctx, event.TypeError, event.ErrorPayload{Error: err.Error(), Code: "emit_failed"})
		}
	}
}

// EmitStarted records the started event (blocking).
func (c *Context) EmitStarted(ctx context.Context, agentName, framework string, metadata map[string]any) error {
	return c.emit(ctx, event.TypeStarted, event.StartedPayload{AgentName: agentName, Framework: framework, Metadata: metadata})
}

// EmitStartedAsync records the started event (fire-and-forget).
func (c *Context) EmitStartedAsync(ctx context.Context, agentName, framework string, metadata map[string]any) {
	c.emitAsync(ctx, event.TypeStarted, event.StartedPayload{AgentName: agentName, Framework: framework, Metadata: metadata})
}

// EmitProgress records a progress event (blocking).
func (c *Context) EmitProgress(ctx context.Context, step string, progress float64, message string) error {
	return c.emit(ctx, event.TypeProgress, event.ProgressPayload{Step: step, Progress: progress, Message: message})
}

// EmitProgressAsync records a progress event (fire-and-forget).
func (c *Context) EmitProgressAsync(ctx context.Context, step string, progress float64, message string) {
	c.emitAsync(ctx, event.TypeProgress, event.ProgressPayload{Step: step, Progress: progress, Message: message})
}

// EmitCheckpoint records a checkpoint event (blocking).
func (c *Context) EmitCheckpoint(ctx context.Context, name string, data any) error {
	return c.emit(ctx, event.TypeCheckpoint, event.CheckpointPayload{Name: name, Data: data})
}

// EmitCheckpointAsync records a checkpoint event (fire-and-forget).
func (c *Context) EmitCheckpointAsync(ctx context.Context, name string, data any) {
	c.emitAsync(ctx, event.TypeCheckpoint, event.CheckpointPayload{Name: name, Data: data})
}

// EmitToken records a token event (blocking).
func (c *Context) EmitToken(ctx context.Context, content, finishReason string) error {
	return c.emit(ctx, event.TypeToken, event.TokenPayload{Content: content, FinishReason: finishReason})
}

// EmitTokenAsync records a token event (fire-and-forget).
func (c *Context) EmitTokenAsync(ctx context.Context, content, finishReason string) {
	c.emitAsync(ctx, event.TypeToken, event.TokenPayload{Content: content, FinishReason: finishReason})
}

// EmitStep records a step event (blocking).
func (c *Context) EmitStep(ctx context.Context, nodeName string, durationMs int64, inputKeys, outputKeys []string) error {
	return c.emit(ctx, event.TypeStep, event.StepPayload{NodeName: nodeName, DurationMs: durationMs, InputKeys: inputKeys, OutputKeys: outputKeys})
}

// EmitStepAsync records a step event (fire-and-forget).
func (c *Context) EmitStepAsync(ctx context.Context, nodeName string, durationMs int64, inputKeys, outputKeys []string) {
	c.emitAsync(ctx, event.TypeStep, event.StepPayload{NodeName: nodeName, DurationMs: durationMs, InputKeys: inputKeys, OutputKeys: outputKeys})
}

// EmitComplete records the complete terminal event (blocking).
func (c *Context) EmitComplete(ctx context.Context, output any, latencySeconds float64, metadata map[string]any) error {
	return c.emit(ctx, event.TypeComplete, event.CompletePayload{Output: output, LatencySeconds: latencySeconds, Metadata: metadata})
}

// EmitCompleteAsync records the complete terminal event (fire-and-forget).
func (c *Context) EmitCompleteAsync(ctx context.Context, output any, latencySeconds float64, metadata map[string]any) {
	c.emitAsync(ctx, event.TypeComplete, event.CompletePayload{Output: output, LatencySeconds: latencySeconds, Metadata: metadata})
}

// EmitError records the error terminal event (blocking).
func (c *Context) EmitError(ctx context.Context, errMsg, code string, details any) error {
	return c.emit(ctx, event.TypeError, event.ErrorPayload{Error: errMsg, Code: code, Details: details})
}

// EmitErrorAsync records the error terminal event (fire-and-forget).
func (c *Context) EmitErrorAsync(ctx context.Context, errMsg, code string, details any) {
	c.emitAsync(ctx, event.TypeError, event.ErrorPayload{Error: errMsg, Code: code, Details: details})
}

// EmitCancelled records the cancelled terminal event (blocking).
func (c *Context) EmitCancelled(ctx context.Context, reason string) error {
	return c.emit(ctx, event.TypeCancelled, event.CancelledPayload{Reason: reason})
}

// EmitCancelledAsync records the cancelled terminal event (fire-and-forget).
func (c *Context) EmitCancelledAsync(ctx context.Context, reason string) {
	c.emitAsync(ctx, event.TypeCancelled, event.CancelledPayload{Reason: reason})
}

// EmitHeartbeat records a heartbeat event (blocking). Heartbeats are
// subject to the filter like any other non-mandatory type.
func (c *Context) EmitHeartbeat(ctx context.Context) error {
	return c.emit(ctx, event.TypeHeartbeat, event.HeartbeatPayload{})
}

// EmitHeartbeatAsync records a heartbeat event (fire-and-forget).
func (c *Context) EmitHeartbeatAsync(ctx context.Context) {
	c.emitAsync(ctx, event.TypeHeartbeat, event.HeartbeatPayload{})
}

// EmitCustom records a custom:<name> event (blocking).
func (c *Context) EmitCustom(ctx context.Context, name string, data any) error {
	return c.emit(ctx, event.CustomType(name), event.CustomPayload{Data: data})
}

// EmitCustomAsync records a custom:<name> event (fire-and-forget).
func (c *Context) EmitCustomAsync(ctx context.Context, name string, data any) {
	c.emitAsync(ctx, event.CustomType(name), event.CustomPayload{Data: data})
}
