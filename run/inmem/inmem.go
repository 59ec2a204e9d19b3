// Package inmem provides an in-memory implementation of run.Store,
// suitable for tests, the demo binary, and single-process deployments that
// do not need run records to outlive the process.
package inmem

import (
	"context"
	"sync"

	"github.com/dockrion/dockrion/run"
	"github.com/dockrion/dockrion/streamerr"
)

// Store is an in-memory run.Store. A single mutex serializes Transition
// calls so that a racing cancel and completion for the same run resolve
// to exactly one winner.
type Store struct {
	mu      sync.Mutex
	records map[string]run.Record
}

var _ run.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{records: make(map[string]run.Record)}
}

// Create implements run.Store.
func (s *Store) Create(_ context.Context, rec run.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.RunID] = cloneRecord(rec)
	return nil
}

// Load implements run.Store.
func (s *Store) Load(_ context.Context, runID string) (run.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[runID]
	if !ok {
		return run.Record{}, streamerr.RunNotFound
	}
	return cloneRecord(rec), nil
}

// Transition implements run.Store. It holds the store's single mutex for
// the duration of mutate, which is sufficient critical-section atomicity
// for an in-memory backend (see package run.Store docs).
func (s *Store) Transition(_ context.Context, runID string, mutate func(*run.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[runID]
	if !ok {
		return streamerr.RunNotFound
	}
	working := cloneRecord(rec)
	if err := mutate(&working); err != nil {
		return err
	}
	s.records[runID] = cloneRecord(working)
	return nil
}

// Delete implements run.Store.
func (s *Store) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	return nil
}

// Reset clears all records. Test helper only; not part of run.Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]run.Record)
}

func cloneRecord(rec run.Record) run.Record {
	out := rec
	if rec.StartedAt != nil {
		t := *rec.StartedAt
		out.StartedAt = &t
	}
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		out.FinishedAt = &t
	}
	if rec.Error != nil {
		e := *rec.Error
		out.Error = &e
	}
	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
