// Package checkpointstore defines the port for durable workflow checkpoints.
package checkpointstore

import (
	"context"

	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
)

// Store persists one checkpoint per thread with atomic create and
// version compare-and-swap updates.
//
// Implementations must map their native errors onto the domain sentinels:
//   - Create on an existing thread returns domain.ErrThreadConflict.
//   - Get or Update on a missing thread return domain.ErrNotFound.
//   - Update with a stale expectedVersion returns domain.ErrThreadConflict.
type Store interface {
	// Create inserts cp, setting cp.Version to 1.
	Create(ctx context.Context, cp *checkpoint.Checkpoint) error

	// Get returns a copy of the checkpoint for threadID.
	Get(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error)

	// Update replaces the checkpoint if its stored version equals
	// expectedVersion, then sets cp.Version to expectedVersion+1.
	Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error

	// Delete removes the checkpoint for threadID. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, threadID string) error
}
