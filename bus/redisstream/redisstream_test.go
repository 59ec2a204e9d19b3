package redisstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/bus/redisstream"
	"github.com/dockrion/dockrion/event"
)

func newTestBackend(t *testing.T) (*redisstream.Backend, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := redisstream.New(redisstream.Options{Client: client, BlockDuration: 50 * time.Millisecond})
	require.NoError(t, err)
	return b, client
}

func mkEvent(typ event.Type, runID string, seq int64) event.Event {
	var payload any
	switch typ {
	case event.TypeStarted:
		payload = event.StartedPayload{AgentName: "a", Framework: "f"}
	case event.TypeProgress:
		payload = event.ProgressPayload{Step: "a", Progress: 0.5}
	case event.TypeComplete:
		payload = event.CompletePayload{Output: map[string]any{"r": float64(1)}}
	default:
		payload = event.HeartbeatPayload{}
	}
	return event.Event{Type: typ, RunID: runID, Sequence: seq, Timestamp: time.Now().UTC(), Payload: payload}
}

func TestPublishAndGetEvents(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeStarted, "r1", 0)))
	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeProgress, "r1", 1)))
	require.NoError(t, b.Publish(ctx, "r1", mkEvent(event.TypeComplete, "r1", 2)))

	got, err := b.GetEvents(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(0), got[0].Sequence)
	assert.Equal(t, event.TypeStarted, got[0].Type)
	assert.Equal(t, event.TypeComplete, got[2].Type)
}

func TestGetEvents_FromSequenceFiltersReplay(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "r2", mkEvent(event.TypeProgress, "r2", i)))
	}
	require.NoError(t, b.Publish(ctx, "r2", mkEvent(event.TypeComplete, "r2", 5)))

	got, err := b.GetEvents(ctx, "r2", 3, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].Sequence)
	assert.Equal(t, int64(5), got[2].Sequence)
}

func TestSubscribe_ReplayThenTerminalCloses(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Publish(ctx, "r3", mkEvent(event.TypeStarted, "r3", 0)))
	require.NoError(t, b.Publish(ctx, "r3", mkEvent(event.TypeComplete, "r3", 1)))

	sub, err := b.Subscribe(ctx, "r3", 0)
	require.NoError(t, err)
	defer sub.Close()

	var seqs []int64
	for ev := range sub.Events() {
		seqs = append(seqs, ev.Sequence)
	}
	assert.Equal(t, []int64{0, 1}, seqs)
}

func TestSubscribe_TailsLiveEventsAfterReplay(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Publish(ctx, "r4", mkEvent(event.TypeStarted, "r4", 0)))

	sub, err := b.Subscribe(ctx, "r4", 0)
	require.NoError(t, err)
	defer sub.Close()

	first := <-sub.Events()
	assert.Equal(t, int64(0), first.Sequence)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(ctx, "r4", mkEvent(event.TypeComplete, "r4", 1))
	}()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, int64(1), ev.Sequence)
		assert.Equal(t, event.TypeComplete, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tailed event")
	}
}

func TestSubscribeFromSequenceGreaterThanTerminal_YieldsEmpty(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Publish(ctx, "r6", mkEvent(event.TypeComplete, "r6", 0)))

	sub, err := b.Subscribe(ctx, "r6", 5)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "subscription should close immediately with nothing to deliver")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close immediately for an already-terminal run")
	}
}

func TestTrim_RemovesStream(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Publish(ctx, "r5", mkEvent(event.TypeComplete, "r5", 0)))
	require.NoError(t, b.Trim(ctx, "r5"))

	got, err := b.GetEvents(ctx, "r5", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
