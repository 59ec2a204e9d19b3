package mongo

import (
	"context"
	"errors"

	"github.com/dockrion/dockrion/run"
)

// Store implements run.Store by delegating to a Mongo Client.
type Store struct {
	client Client
}

var _ run.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("run/mongo: client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromOptions instantiates the Store by constructing the
// underlying Mongo client from connection Options.
func NewStoreFromOptions(opts Options) (*Store, error) {
	client, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

// Create implements run.Store.
func (s *Store) Create(ctx context.Context, rec run.Record) error {
	return s.client.Insert(ctx, rec)
}

// Load implements run.Store.
func (s *Store) Load(ctx context.Context, runID string) (run.Record, error) {
	return s.client.Load(ctx, runID)
}

// Transition implements run.Store via optimistic compare-and-swap on the
// document's internal version field.
func (s *Store) Transition(ctx context.Context, runID string, mutate func(*run.Record) error) error {
	return s.client.CompareAndSwap(ctx, runID, mutate)
}

// Delete implements run.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.client.Delete(ctx, runID)
}
