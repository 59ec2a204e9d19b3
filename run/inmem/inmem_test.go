package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/run"
	"github.com/dockrion/dockrion/run/inmem"
	"github.com/dockrion/dockrion/streamerr"
)

func TestCreateAndLoad(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	rec := run.Record{RunID: "r1", Status: run.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusPending, got.Status)
}

func TestLoad_UnknownRun(t *testing.T) {
	s := inmem.New()
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, streamerr.RunNotFound)
}

func TestTransition_MutatesAtomically(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, run.Record{RunID: "r1", Status: run.StatusPending}))

	require.NoError(t, s.Transition(ctx, "r1", func(r *run.Record) error {
		r.Status = run.StatusRunning
		return nil
	}))

	got, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, got.Status)
}

func TestTransition_FirstWinsOnRace(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, run.Record{RunID: "r1", Status: run.StatusRunning}))

	terminalGuard := func(r *run.Record) error {
		if r.Status.IsTerminal() {
			return streamerr.AlreadyTerminal
		}
		return nil
	}

	require.NoError(t, s.Transition(ctx, "r1", func(r *run.Record) error {
		if err := terminalGuard(r); err != nil {
			return err
		}
		r.Status = run.StatusCompleted
		return nil
	}))

	err := s.Transition(ctx, "r1", func(r *run.Record) error {
		if err := terminalGuard(r); err != nil {
			return err
		}
		r.Status = run.StatusCancelled
		return nil
	})
	assert.ErrorIs(t, err, streamerr.AlreadyTerminal)

	got, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status, "first transition to reach terminal status wins")
}
