// Package checkpoint defines the durable snapshot of a paused pipeline run.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Status is the persisted lifecycle state of a checkpoint.
type Status string

const (
	// StatusRunning marks a checkpoint owned by an in-flight Start or Resume call.
	StatusRunning Status = "running"
	// StatusSuspended marks a checkpoint waiting for an external resume.
	StatusSuspended Status = "suspended"
)

// Checkpoint is the persisted state of one pipeline thread. At most one
// checkpoint exists per ThreadID.
type Checkpoint struct {
	ThreadID    string          `json:"thread_id"`
	Pipeline    string          `json:"pipeline"`
	State       json.RawMessage `json:"state"`
	Status      Status          `json:"status"`
	SuspendedAt string          `json:"suspended_at,omitempty"`
	NextStep    string          `json:"next_step"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so stores never share State buffers with callers.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.State = append(json.RawMessage(nil), c.State...)
	return &cp
}
