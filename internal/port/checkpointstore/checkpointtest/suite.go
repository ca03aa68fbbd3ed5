// Package checkpointtest provides a conformance suite for checkpointstore.Store
// implementations.
package checkpointtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

// Run exercises the store contract. newStore must return a store in which
// freshly generated thread IDs do not exist.
func Run(t *testing.T, newStore func(t *testing.T) checkpointstore.Store) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := sample()

		if err := s.Create(ctx, cp); err != nil {
			t.Fatalf("create: %v", err)
		}
		if cp.Version != 1 {
			t.Fatalf("expected version 1 after create, got %d", cp.Version)
		}

		got, err := s.Get(ctx, cp.ThreadID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Pipeline != cp.Pipeline || got.NextStep != cp.NextStep || got.Status != cp.Status {
			t.Fatalf("round trip mismatch: got %+v", got)
		}
		if got.Version != 1 {
			t.Fatalf("expected stored version 1, got %d", got.Version)
		}
		var state map[string]any
		if err := json.Unmarshal(got.State, &state); err != nil {
			t.Fatalf("stored state is not JSON: %v", err)
		}
		if state["case_id"] != "case_1" {
			t.Fatalf("state not preserved: %v", state)
		}
	})

	t.Run("CreateTwiceConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := sample()
		if err := s.Create(ctx, cp); err != nil {
			t.Fatalf("create: %v", err)
		}
		dup := sample()
		dup.ThreadID = cp.ThreadID
		if err := s.Create(ctx, dup); !errors.Is(err, domain.ErrThreadConflict) {
			t.Fatalf("expected ErrThreadConflict, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateCompareAndSwap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := sample()
		if err := s.Create(ctx, cp); err != nil {
			t.Fatalf("create: %v", err)
		}

		cp.Status = checkpoint.StatusSuspended
		cp.SuspendedAt = "human_review"
		cp.NextStep = "action"
		if err := s.Update(ctx, cp, 1); err != nil {
			t.Fatalf("update: %v", err)
		}
		if cp.Version != 2 {
			t.Fatalf("expected version 2, got %d", cp.Version)
		}

		stale := cp.Clone()
		if err := s.Update(ctx, stale, 1); !errors.Is(err, domain.ErrThreadConflict) {
			t.Fatalf("expected ErrThreadConflict on stale version, got %v", err)
		}

		got, err := s.Get(ctx, cp.ThreadID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != checkpoint.StatusSuspended || got.SuspendedAt != "human_review" || got.Version != 2 {
			t.Fatalf("unexpected stored checkpoint: %+v", got)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		cp := sample()
		if err := s.Update(context.Background(), cp, 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := sample()
		if err := s.Create(ctx, cp); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Delete(ctx, cp.ThreadID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, cp.ThreadID); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if _, err := s.Get(ctx, cp.ThreadID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Create(ctx, sampleWithID(cp.ThreadID)); err != nil {
			t.Fatalf("re-create after delete: %v", err)
		}
	})

	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Create(context.Background(), sampleWithID(id))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrThreadConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 || conflicts.Load() != 7 {
			t.Fatalf("expected 1 winner and 7 conflicts, got %d/%d", wins.Load(), conflicts.Load())
		}
	})

	t.Run("ConcurrentUpdateOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := sample()
		if err := s.Create(ctx, cp); err != nil {
			t.Fatalf("create: %v", err)
		}
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mine := cp.Clone()
				mine.Status = checkpoint.StatusSuspended
				err := s.Update(context.Background(), mine, 1)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrThreadConflict):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("expected exactly one CAS winner, got %d", wins.Load())
		}
	})
}

func sample() *checkpoint.Checkpoint {
	return sampleWithID(uuid.NewString())
}

func sampleWithID(id string) *checkpoint.Checkpoint {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &checkpoint.Checkpoint{
		ThreadID:  id,
		Pipeline:  "moderation",
		State:     json.RawMessage(`{"case_id":"case_1","confidence":0.8}`),
		Status:    checkpoint.StatusRunning,
		NextStep:  "intake",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
