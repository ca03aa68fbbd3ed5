package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

var _ checkpointstore.Store = (*CheckpointStore)(nil)

// CheckpointStore persists workflow checkpoints in the workflow_checkpoints table.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a checkpoint store on pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (s *CheckpointStore) Create(ctx context.Context, cp *checkpoint.Checkpoint) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO workflow_checkpoints (thread_id, pipeline, state, status, suspended_at, next_step, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, COALESCE($7::timestamptz, now()), COALESCE($8::timestamptz, now()))
		 ON CONFLICT (thread_id) DO NOTHING
		 RETURNING version`,
		cp.ThreadID, cp.Pipeline, []byte(cp.State), string(cp.Status), cp.SuspendedAt, cp.NextStep,
		nullTime(cp.CreatedAt), nullTime(cp.UpdatedAt),
	).Scan(&cp.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
	}
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	var status string
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT thread_id, pipeline, state, status, suspended_at, next_step, version, created_at, updated_at
		 FROM workflow_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&cp.ThreadID, &cp.Pipeline, &state, &status, &cp.SuspendedAt, &cp.NextStep,
		&cp.Version, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get checkpoint %s", threadID)
	}
	cp.State = state
	cp.Status = checkpoint.Status(status)
	return &cp, nil
}

func (s *CheckpointStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_checkpoints
		 SET pipeline = $3, state = $4, status = $5, suspended_at = $6, next_step = $7,
		     version = version + 1, updated_at = COALESCE($8::timestamptz, now())
		 WHERE thread_id = $1 AND version = $2`,
		cp.ThreadID, expectedVersion, cp.Pipeline, []byte(cp.State), string(cp.Status),
		cp.SuspendedAt, cp.NextStep, nullTime(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	if tag.RowsAffected() == 1 {
		cp.Version = expectedVersion + 1
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_checkpoints WHERE thread_id = $1)`, cp.ThreadID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	if !exists {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrNotFound)
	}
	return fmt.Errorf("update checkpoint %s: stale version %d: %w", cp.ThreadID, expectedVersion, domain.ErrThreadConflict)
}

func (s *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM workflow_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}
