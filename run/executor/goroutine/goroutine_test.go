package goroutine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/run/executor"
	"github.com/dockrion/dockrion/run/executor/goroutine"
)

func TestStartAndWait_ReturnsResult(t *testing.T) {
	e := goroutine.New()
	h, err := e.Start(context.Background(), executor.StartRequest{
		RunID: "r1",
		Callable: func(ctx context.Context) (any, error) {
			return "done", nil
		},
	})
	require.NoError(t, err)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestStartAndWait_PropagatesError(t *testing.T) {
	e := goroutine.New()
	wantErr := errors.New("boom")
	h, err := e.Start(context.Background(), executor.StartRequest{
		RunID: "r1",
		Callable: func(ctx context.Context) (any, error) {
			return nil, wantErr
		},
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestCancel_UnblocksCooperativeCallable(t *testing.T) {
	e := goroutine.New()
	h, err := e.Start(context.Background(), executor.StartRequest{
		RunID: "r1",
		Callable: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)

	h.Cancel()

	result, err := h.Wait(context.Background())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWait_RespectsCallerContextDeadline(t *testing.T) {
	e := goroutine.New()
	h, err := e.Start(context.Background(), executor.StartRequest{
		RunID: "r1",
		Callable: func(ctx context.Context) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Hour):
				return "never", nil
			}
		},
	})
	require.NoError(t, err)
	defer h.Cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = h.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
