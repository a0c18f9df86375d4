// Package memstore is an in-memory EventStore with the same semantics as the
// filesystem backend. It exists for tests and for running the binary without
// durable state.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

// Store keeps every context's log in a map. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	logs map[string][]event.Event
}

var _ store.EventStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{logs: make(map[string][]event.Event)}
}

// Load returns a copy of the context's log in append order.
func (s *Store) Load(_ context.Context, name string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.Event(nil), s.logs[name]...), nil
}

// Append adds the batch to the end of the context's log.
func (s *Store) Append(_ context.Context, name string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := store.ValidateBatch(events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[name] = append(s.logs[name], events...)
	return nil
}

// Exists reports whether the context has ever been appended to.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.logs[name]
	return ok, nil
}

// List returns all known context names, sorted for determinism.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.logs))
	for name := range s.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
