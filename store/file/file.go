// Package file provides a JSON-file-per-checkpoint implementation of
// store.CheckpointStore, useful for local/dev deployments that want
// durability without standing up a database.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LingXuanTech/tradeorch/store"
)

var correlationKeys = []string{"execution_id", "session_id", "thread_id", "workflow_id"}

// FileCheckpointStore stores each checkpoint as its own JSON file under path.
type FileCheckpointStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCheckpointStore creates (if necessary) the directory at path and
// returns a store.CheckpointStore backed by it.
func NewFileCheckpointStore(path string) (store.CheckpointStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{path: path}, nil
}

func (s *FileCheckpointStore) filename(id string) string {
	return filepath.Join(s.path, id+".json")
}

// Save writes the checkpoint as id.json, overwriting any prior version.
func (s *FileCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.filename(checkpoint.ID), data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// Load reads and decodes the checkpoint file for checkpointID.
func (s *FileCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.filename(checkpointID))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns every checkpoint whose metadata correlates with executionID,
// sorted by Version ascending.
func (s *FileCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var results []*store.Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		cp, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		if matchesCorrelation(cp, executionID) {
			results = append(results, cp)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Version < results[j].Version
	})

	return results, nil
}

// Delete removes the checkpoint file for checkpointID. Deleting a missing
// checkpoint is a no-op.
func (s *FileCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.filename(checkpointID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// Clear removes every checkpoint file correlated with executionID.
func (s *FileCheckpointStore) Clear(ctx context.Context, executionID string) error {
	matches, err := s.List(ctx, executionID)
	if err != nil {
		return err
	}
	for _, cp := range matches {
		if err := s.Delete(ctx, cp.ID); err != nil {
			return err
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
