package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
)

// CheckpointStore keeps checkpoints in process memory. Suspended threads do
// not survive a restart; use a durable store outside single-process setups.
type CheckpointStore struct {
	mu   sync.Mutex
	data map[string]*checkpoint.Checkpoint
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{data: make(map[string]*checkpoint.Checkpoint)}
}

func (s *CheckpointStore) Create(_ context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[cp.ThreadID]; exists {
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
	}
	cp.Version = 1
	s.data[cp.ThreadID] = cp.Clone()
	return nil
}

func (s *CheckpointStore) Get(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[threadID]
	if !ok {
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, domain.ErrNotFound)
	}
	return cp.Clone(), nil
}

func (s *CheckpointStore) Update(_ context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[cp.ThreadID]
	if !ok {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("update checkpoint %s: version %d, expected %d: %w",
			cp.ThreadID, cur.Version, expectedVersion, domain.ErrThreadConflict)
	}
	cp.Version = expectedVersion + 1
	s.data[cp.ThreadID] = cp.Clone()
	return nil
}

func (s *CheckpointStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

// Len returns the number of live checkpoints.
func (s *CheckpointStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
