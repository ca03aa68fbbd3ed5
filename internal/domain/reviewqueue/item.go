// Package reviewqueue defines the durably ordered backlog of cases and
// appeals awaiting a human decision.
package reviewqueue

import (
	"fmt"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
)

// Priority orders queue items; Rank gives the sort key.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityLow:    3,
}

// Rank returns the sort position of p; lower ranks are shown first.
// Unknown priorities sort after low.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusCompleted Status = "completed"
)

var statusOrder = map[Status]int{
	StatusPending:   0,
	StatusInReview:  1,
	StatusCompleted: 2,
}

// ValidStatus reports whether s is a declared status.
func ValidStatus(s Status) bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransition reports whether a status change from -> to is allowed.
// Transitions only move forward; in_review may be skipped.
func CanTransition(from, to Status) bool {
	f, okFrom := statusOrder[from]
	t, okTo := statusOrder[to]
	return okFrom && okTo && t > f
}

// Item is one entry in the review queue. Exactly one of CaseID and AppealID is set.
type Item struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id,omitempty"`
	AppealID    string     `json:"appeal_id,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks the reference and enum invariants of an item.
func (i *Item) Validate() error {
	if (i.CaseID == "") == (i.AppealID == "") {
		return fmt.Errorf("exactly one of case_id and appeal_id must be set: %w", domain.ErrValidation)
	}
	if _, ok := priorityRank[i.Priority]; !ok {
		return fmt.Errorf("invalid priority %q: %w", i.Priority, domain.ErrValidation)
	}
	if !ValidStatus(i.Status) {
		return fmt.Errorf("invalid status %q: %w", i.Status, domain.ErrValidation)
	}
	return nil
}

// Less orders a before b: by priority rank, then newest first.
func Less(a, b *Item) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	return a.CreatedAt.After(b.CreatedAt)
}
