package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore/checkpointtest"
)

func open(t *testing.T) *CheckpointStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckpointStoreConformance(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpointstore.Store {
		return open(t)
	})
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	cp := &checkpoint.Checkpoint{
		ThreadID:    "case_abc",
		Pipeline:    "moderation",
		State:       []byte(`{"case_id":"case_abc"}`),
		Status:      checkpoint.StatusSuspended,
		SuspendedAt: "human_review",
		NextStep:    "action",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Create(ctx, cp); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "case_abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.SuspendedAt != "human_review" || !got.CreatedAt.Equal(now) || got.Version != 1 {
		t.Fatalf("unexpected checkpoint after reopen: %+v", got)
	}
}
