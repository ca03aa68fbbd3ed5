// Package sqlite implements the checkpoint store on a local SQLite file
// for single-node deployments that still need restart durability.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

var _ checkpointstore.Store = (*CheckpointStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id    TEXT PRIMARY KEY,
	pipeline     TEXT NOT NULL,
	state        BLOB NOT NULL,
	status       TEXT NOT NULL,
	suspended_at TEXT NOT NULL DEFAULT '',
	next_step    TEXT NOT NULL,
	version      INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);`

// CheckpointStore keeps checkpoints in a SQLite database.
type CheckpointStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps compare-and-swap free of SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Close closes the database.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

func (s *CheckpointStore) Create(ctx context.Context, cp *checkpoint.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, pipeline, state, status, suspended_at, next_step, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		cp.ThreadID, cp.Pipeline, []byte(cp.State), string(cp.Status), cp.SuspendedAt, cp.NextStep,
		formatTime(cp.CreatedAt), formatTime(cp.UpdatedAt))
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
		}
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, err)
	}
	cp.Version = 1
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	var (
		cp                   checkpoint.Checkpoint
		state                []byte
		status               string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, pipeline, state, status, suspended_at, next_step, version, created_at, updated_at
		 FROM checkpoints WHERE thread_id = ?`, threadID).
		Scan(&cp.ThreadID, &cp.Pipeline, &state, &status, &cp.SuspendedAt, &cp.NextStep, &cp.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get checkpoint %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	cp.State = state
	cp.Status = checkpoint.Status(status)
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	if cp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

func (s *CheckpointStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints
		 SET pipeline = ?, state = ?, status = ?, suspended_at = ?, next_step = ?, version = version + 1, updated_at = ?
		 WHERE thread_id = ? AND version = ?`,
		cp.Pipeline, []byte(cp.State), string(cp.Status), cp.SuspendedAt, cp.NextStep, formatTime(cp.UpdatedAt),
		cp.ThreadID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM checkpoints WHERE thread_id = ?)`, cp.ThreadID).Scan(&exists); err != nil {
			return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
		}
		if !exists {
			return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
	}
	cp.Version = expectedVersion + 1
	return nil
}

func (s *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
