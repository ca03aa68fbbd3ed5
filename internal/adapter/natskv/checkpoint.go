package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

var _ checkpointstore.Store = (*CheckpointStore)(nil)

// CheckpointStore keeps one JSON checkpoint per key. The logical version
// lives in the payload; the KV revision guards the compare-and-swap.
type CheckpointStore struct {
	kv jetstream.KeyValue
}

// NewCheckpointStore creates a checkpoint store on the given bucket.
func NewCheckpointStore(kv jetstream.KeyValue) *CheckpointStore {
	return &CheckpointStore{kv: kv}
}

func (s *CheckpointStore) Create(ctx context.Context, cp *checkpoint.Checkpoint) error {
	stored := cp.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.kv.Create(ctx, cp.ThreadID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
		}
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, err)
	}
	cp.Version = 1
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cp, _, err := s.load(ctx, threadID)
	return cp, err
}

func (s *CheckpointStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	cur, rev, err := s.load(ctx, cp.ThreadID)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("update checkpoint %s: version %d, expected %d: %w",
			cp.ThreadID, cur.Version, expectedVersion, domain.ErrThreadConflict)
	}

	stored := cp.Clone()
	stored.Version = expectedVersion + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.kv.Update(ctx, cp.ThreadID, data, rev); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
		}
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	cp.Version = stored.Version
	return nil
}

// Delete purges the key so a later Create with the same thread succeeds.
func (s *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	err := s.kv.Purge(ctx, threadID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (s *CheckpointStore) load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, uint64, error) {
	entry, err := s.kv.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, fmt.Errorf("get checkpoint %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(entry.Value(), &cp); err != nil {
		return nil, 0, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, entry.Revision(), nil
}
