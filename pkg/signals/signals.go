// Package signals stores signal payloads delivered to waiting executions.
// A signal is written by the control API and consumed exactly once by the
// worker that re-enters the execution.
package signals

import (
	"context"
	"sync"
)

// Store holds signal payloads keyed by execution and node until a worker
// consumes them.
type Store interface {
	// Put records a signal for a waiting node.
	Put(ctx context.Context, executionID, nodeID string, data map[string]any) error

	// Take removes and returns the signal for the node. The second return
	// is false when no signal is pending.
	Take(ctx context.Context, executionID, nodeID string) (map[string]any, bool, error)

	Close() error
}

// MemoryStore is the in-process Store used by tests and single-process
// development setups.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]map[string]any)}
}

func (s *MemoryStore) Put(_ context.Context, executionID, nodeID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}

	s.pending[executionID+":"+nodeID] = data

	return nil
}

func (s *MemoryStore) Take(_ context.Context, executionID, nodeID string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := executionID + ":" + nodeID

	data, ok := s.pending[key]
	if !ok {
		return nil, false, nil
	}

	delete(s.pending, key)

	return data, true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
