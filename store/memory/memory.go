// Package memory provides an in-process, map-backed implementation of
// store.CheckpointStore for tests and single-process deployments that don't
// need durability across restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LingXuanTech/tradeorch/store"
)

// correlationKeys lists the metadata fields List matches the given
// executionID against. Callers use whichever one fits their domain
// (session_id, thread_id, workflow_id, or the generic execution_id).
var correlationKeys = []string{"execution_id", "session_id", "thread_id", "workflow_id"}

// MemoryCheckpointStore implements store.CheckpointStore backed by an
// in-memory map, guarded by a mutex for concurrent access.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint
}

// NewMemoryCheckpointStore creates a new empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
	}
}

// Save stores a checkpoint, overwriting any existing one with the same ID.
func (s *MemoryCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *checkpoint
	s.checkpoints[checkpoint.ID] = &cp
	return nil
}

// Load retrieves a checkpoint by ID.
func (s *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
	}

	copied := *cp
	return &copied, nil
}

// List returns all checkpoints whose metadata correlates with executionID,
// sorted by Version ascending.
func (s *MemoryCheckpointStore) List(_ context.Context, executionID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*store.Checkpoint
	for _, cp := range s.checkpoints {
		if matchesCorrelation(cp, executionID) {
			copied := *cp
			results = append(results, &copied)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Version < results[j].Version
	})

	return results, nil
}

// Delete removes a checkpoint. Deleting a missing checkpoint is a no-op.
func (s *MemoryCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, checkpointID)
	return nil
}

// Clear removes every checkpoint correlated with executionID.
func (s *MemoryCheckpointStore) Clear(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cp := range s.checkpoints {
		if matchesCorrelation(cp, executionID) {
			delete(s.checkpoints, id)
		}
	}
	return nil
}

func matchesCorrelation(cp *store.Checkpoint, executionID string) bool {
	for _, key := range correlationKeys {
		if v, ok := cp.Metadata[key].(string); ok && v == executionID {
			return true
		}
	}
	return false
}
