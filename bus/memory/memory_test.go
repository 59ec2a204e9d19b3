package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/bus/memory"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/streamerr"
)

func mkEvent(typ event.Type, runID string, seq int64) event.Event {
	var payload any
	switch typ {
	case event.TypeStarted:
		payload = event.StartedPayload{AgentName: "a", Framework: "f"}
	case event.TypeProgress:
		payload = event.ProgressPayload{Step: "a", Progress: 0.5}
	case event.TypeToken:
		payload = event.TokenPayload{Content: "hi"}
	case event.TypeComplete:
		payload = event.CompletePayload{Output: map[string]any{"r": 1}}
	default:
		payload = event.HeartbeatPayload{}
	}
	return event.Event{Type: typ, RunID: runID, Sequence: seq, Timestamp: time.Now().UTC(), Payload: payload}
}

func TestHappyPath_InMemory(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{SubscriberBufferSize: 8})
	defer b.Close()

	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeStarted, "r1", 0)))
	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeProgress, "r1", 1)))
	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeToken, "r1", 2)))
	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeComplete, "r1", 3)))

	sub, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)
	defer sub.Close()

	var seqs []int64
	for ev := range sub.Events() {
		seqs = append(seqs, ev.Sequence)
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, seqs)
}

func TestPublishAfterTerminal_ReturnsAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{})
	defer b.Close()

	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeComplete, "r1", 0)))
	err := b.Publish(ctx, "r1", mkEvent(event.TypeToken, "r1", 1))
	assert.ErrorIs(t, err, streamerr.AlreadyTerminal)
}

func TestOverflow_MandatoryNeverEvicted(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{MaxEventsPerRun: 5})
	defer b.Close()

	require.NoError(t, b.Publish(ctx, "r6", mkEvent(event.TypeStarted, "r6", 0)))
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, b.Publish(ctx, "r6", mkEvent(event.TypeProgress, "r6", i)))
	}
	require.NoError(t, b.Publish(ctx, "r6", mkEvent(event.TypeComplete, "r6", 11)))

	got, err := b.GetEvents(ctx, "r6", 0, 0)
	require.NoError(t, err)

	// Oldest non-mandatory events are evicted first, one at a time, as each
	// publish pushes the run over MaxEventsPerRun=5; started and complete
	// are mandatory and are never candidates for eviction. Tracing the
	// publish sequence (started=0, progress=1..10, complete=11) against
	// that eviction order leaves exactly this set.
	wantSeqs := []int64{0, 8, 9, 10, 11}
	gotSeqs := make([]int64, len(got))
	for i, ev := range got {
		gotSeqs[i] = ev.Sequence
	}
	assert.Equal(t, wantSeqs, gotSeqs)
	assert.Equal(t, event.TypeStarted, got[0].Type, "mandatory started must never be evicted")
	assert.Equal(t, event.TypeComplete, got[len(got)-1].Type, "mandatory complete must never be evicted")
}

func TestSubscribeFromSequenceGreaterThanTerminal_YieldsEmpty(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{})
	defer b.Close()

	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeComplete, "r1", 0)))

	sub, err := b.Subscribe(ctx, "r1", 5)
	require.NoError(t, err)
	defer sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok, "subscription should close immediately with nothing to deliver")
}

func TestTrim_RemovesEvents(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{})
	defer b.Close()

	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeComplete, "r1", 0)))
	require.NoError(t, b.Trim(ctx, "r1"))

	got, err := b.GetEvents(ctx, "r1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
