package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/event"
)

func TestEvent_MarshalJSON_FlattensEnvelopeAndPayload(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := event.Event{
		Type:      event.TypeProgress,
		RunID:     "run-1",
		Sequence:  3,
		Timestamp: ts,
		Payload:   event.ProgressPayload{Step: "a", Progress: 0.5},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "progress", decoded["type"])
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, float64(3), decoded["sequence"])
	assert.Equal(t, "a", decoded["step"])
	assert.Equal(t, 0.5, decoded["progress"])
}

func TestEvent_RoundTrip(t *testing.T) {
	cases := []event.Event{
		{
			Type: event.TypeStarted, RunID: "r", Sequence: 0, Timestamp: time.Now().UTC(),
			Payload: event.StartedPayload{AgentName: "agent", Framework: "fw"},
		},
		{
			Type: event.TypeToken, RunID: "r", Sequence: 1, Timestamp: time.Now().UTC(),
			Payload: event.TokenPayload{Content: "hi"},
		},
		{
			Type: event.TypeComplete, RunID: "r", Sequence: 2, Timestamp: time.Now().UTC(),
			Payload: event.CompletePayload{Output: map[string]any{"r": float64(1)}},
		},
		{
			Type: event.CustomType("fraud_check"), RunID: "r", Sequence: 3, Timestamp: time.Now().UTC(),
			Payload: event.CustomPayload{Data: "x"},
		},
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		var got event.Event
		require.NoError(t, json.Unmarshal(data, &got))

		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.Sequence, got.Sequence)
		assert.Equal(t, want.Timestamp.Unix(), got.Timestamp.Unix())
		assert.Equal(t, want.Payload, got.Payload)
	}
}

func TestType_IsTerminalAndMandatory(t *testing.T) {
	assert.True(t, event.TypeComplete.IsTerminal())
	assert.True(t, event.TypeError.IsTerminal())
	assert.True(t, event.TypeCancelled.IsTerminal())
	assert.False(t, event.TypeToken.IsTerminal())

	assert.True(t, event.TypeStarted.IsMandatory())
	assert.False(t, event.TypeHeartbeat.IsMandatory())
}

func TestType_Custom(t *testing.T) {
	ct := event.CustomType("fraud_check")
	assert.True(t, ct.IsCustom())
	assert.Equal(t, "fraud_check", ct.CustomName())
	assert.False(t, event.TypeToken.IsCustom())
}
