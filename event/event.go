// Package event defines the immutable event record streamed out of a run,
// its wire encoding, and the per-type payload shapes agents emit.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of an event. Built-in types are fixed string
// constants; custom types carry a "custom:" prefix followed by an
// application-chosen name.
type Type string

// Built-in event types.
const (
	TypeStarted    Type = "started"
	TypeProgress   Type = "progress"
	TypeCheckpoint Type = "checkpoint"
	TypeToken      Type = "token"
	TypeStep       Type = "step"
	TypeComplete   Type = "complete"
	TypeError      Type = "error"
	TypeCancelled  Type = "cancelled"
	TypeHeartbeat  Type = "heartbeat"
)

const customPrefix = "custom:"

// CustomType builds the event type for a named custom event.
func CustomType(name string) Type {
	return Type(customPrefix + name)
}

// IsCustom reports whether t is a custom:<name> type.
func (t Type) IsCustom() bool {
	return strings.HasPrefix(string(t), customPrefix)
}

// CustomName returns the name portion of a custom:<name> type, or "" if t
// is not a custom type.
func (t Type) CustomName() string {
	if !t.IsCustom() {
		return ""
	}
	return strings.TrimPrefix(string(t), customPrefix)
}

// IsTerminal reports whether t is one of the three terminal event types.
// Exactly one terminal event is ever recorded per run.
func (t Type) IsTerminal() bool {
	switch t {
	case TypeComplete, TypeError, TypeCancelled:
		return true
	default:
		return false
	}
}

// IsMandatory reports whether t is always emitted regardless of filter
// configuration: started and the three terminal types.
func (t Type) IsMandatory() bool {
	switch t {
	case TypeStarted, TypeComplete, TypeError, TypeCancelled:
		return true
	default:
		return false
	}
}

// Event is an immutable record describing one happening within a run.
// Sequence is dense and strictly increasing per RunID, assigned atomically
// at emission by the producer that owns the run (see streamctx).
type Event struct {
	Type      Type
	RunID     string
	Sequence  int64
	Timestamp time.Time
	Payload   any
}

// envelope carries the fields common to every event, used for both
// marshaling (flattened alongside the payload) and type-directed decoding.
type envelope struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"ts"`
}

// MarshalJSON flattens the envelope fields and the payload fields into a
// single JSON object: {type, run_id, sequence, ts, ...payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	payloadBytes, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal payload: %w", err)
	}
	merged := map[string]any{}
	if len(payloadBytes) > 0 && string(payloadBytes) != "null" {
		if err := json.Unmarshal(payloadBytes, &merged); err != nil {
			return nil, fmt.Errorf("event: payload is not a JSON object: %w", err)
		}
	}
	merged["type"] = e.Type
	merged["run_id"] = e.RunID
	merged["sequence"] = e.Sequence
	merged["ts"] = e.Timestamp
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the envelope fields, then decodes the payload into
// the concrete struct registered for the event's type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("event: decode envelope: %w", err)
	}
	payload, err := newPayload(env.Type)
	if err != nil {
		return err
	}
	if payload != nil {
		if err := json.Unmarshal(data, payload); err != nil {
			return fmt.Errorf("event: decode payload for %q: %w", env.Type, err)
		}
	}
	e.Type = env.Type
	e.RunID = env.RunID
	e.Sequence = env.Sequence
	e.Timestamp = env.Timestamp
	if payload != nil {
		e.Payload = derefPayload(payload)
	}
	return nil
}

// newPayload returns an addressable zero value of the payload struct
// registered for t, suitable for json.Unmarshal.
func newPayload(t Type) (any, error) {
	switch {
	case t.IsCustom():
		return &CustomPayload{}, nil
	default:
		switch t {
		case TypeStarted:
			return &StartedPayload{}, nil
		case TypeProgress:
			return &ProgressPayload{}, nil
		case TypeCheckpoint:
			return &CheckpointPayload{}, nil
		case TypeToken:
			return &TokenPayload{}, nil
		case TypeStep:
			return &StepPayload{}, nil
		case TypeComplete:
			return &CompletePayload{}, nil
		case TypeError:
			return &ErrorPayload{}, nil
		case TypeCancelled:
			return &CancelledPayload{}, nil
		case TypeHeartbeat:
			return &HeartbeatPayload{}, nil
		default:
			return nil, fmt.Errorf("event: unknown type %q", t)
		}
	}
}

func derefPayload(p any) any {
	switch v := p.(type) {
	case *StartedPayload:
		return *v
	case *ProgressPayload:
		return *v
	case *CheckpointPayload:
		return *v
	case *TokenPayload:
		return *v
	case *StepPayload:
		return *v
	case *CompletePayload:
		return *v
	case *ErrorPayload:
		return *v
	case *CancelledPayload:
		return *v
	case *HeartbeatPayload:
		return *v
	case *CustomPayload:
		return *v
	default:
		return p
	}
}

type (
	// StartedPayload is the payload for the started event.
	StartedPayload struct {
		AgentName string         `json:"agent_name"`
		Framework string         `json:"framework"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// ProgressPayload is the payload for the progress event.
	ProgressPayload struct {
		Step     string  `json:"step"`
		Progress float64 `json:"progress"`
		Message  string  `json:"message,omitempty"`
	}

	// CheckpointPayload is the payload for the checkpoint event.
	CheckpointPayload struct {
		Name string `json:"name"`
		Data any    `json:"data"`
	}

	// TokenPayload is the payload for the token event.
	TokenPayload struct {
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason,omitempty"`
	}

	// StepPayload is the payload for the step event.
	StepPayload struct {
		NodeName   string   `json:"node_name"`
		DurationMs int64    `json:"duration_ms,omitempty"`
		InputKeys  []string `json:"input_keys,omitempty"`
		OutputKeys []string `json:"output_keys,omitempty"`
	}

	// CompletePayload is the payload for the complete terminal event.
	CompletePayload struct {
		Output         any            `json:"output"`
		LatencySeconds float64        `json:"latency_seconds,omitempty"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}

	// ErrorPayload is the payload for the error terminal event.
	ErrorPayload struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details any    `json:"details,omitempty"`
	}

	// CancelledPayload is the payload for the cancelled terminal event.
	CancelledPayload struct {
		Reason string `json:"reason,omitempty"`
	}

	// HeartbeatPayload is the (empty) payload for the heartbeat event.
	HeartbeatPayload struct{}

	// CustomPayload is the payload for any custom:<name> event.
	CustomPayload struct {
		Data any `json:"data"`
	}
)
