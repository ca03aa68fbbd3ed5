// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking)
// or an attempt to change an entity that has already reached a final state.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input that was rejected before any state changed.
var ErrValidation = errors.New("validation failed")

// ErrThreadConflict indicates a second Start on a thread that already has a live
// checkpoint, or a resume that lost the race to claim a suspended checkpoint.
var ErrThreadConflict = errors.New("thread conflict")

// ErrInvalidDecision indicates a reviewer decision outside the accepted set.
var ErrInvalidDecision = errors.New("invalid decision")
