// Package database defines the case store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/domain/stats"
)

// Store is the durable home of cases, appeals, review queue items and the
// audit log. Every method that writes more than one row does so in a single
// transaction: either all rows commit or none do.
type Store interface {
	// Cases

	// CreateCase inserts c, assigning ID (when empty) and timestamps. An
	// escalated case also gets a high-priority queue item. A case_created
	// audit entry is always written with it.
	CreateCase(ctx context.Context, c *moderation.Case) error
	GetCase(ctx context.Context, id string) (*moderation.Case, error)
	ListCases(ctx context.Context, filter moderation.ListFilter) ([]moderation.Case, error)
	ListCasesByAuthor(ctx context.Context, authorID string, limit int) ([]moderation.Case, error)
	// UpdateCaseDecision writes the decision fields, a decision_updated audit
	// entry, and completes the open queue items of the case.
	UpdateCaseDecision(ctx context.Context, id string, u moderation.DecisionUpdate) (*moderation.Case, error)

	// Appeals

	// CreateAppeal inserts a pending appeal with a medium-priority queue item
	// and an appeal_filed audit entry.
	CreateAppeal(ctx context.Context, req appeal.Request) (*appeal.Appeal, error)
	GetAppeal(ctx context.Context, id string) (*appeal.Appeal, error)
	// ResolveAppeal writes the resolution fields once. An overturned appeal
	// also approves the referenced case. A second resolution returns
	// domain.ErrConflict.
	ResolveAppeal(ctx context.Context, id string, r appeal.Resolution) (*appeal.Appeal, error)

	// Review queue

	// ReviewQueue lists items with the given status ordered by priority rank,
	// then newest first. An empty status lists all items.
	ReviewQueue(ctx context.Context, status reviewqueue.Status, limit int) ([]reviewqueue.Item, error)
	GetQueueItem(ctx context.Context, id string) (*reviewqueue.Item, error)
	AssignQueueItem(ctx context.Context, id, reviewerID string) (*reviewqueue.Item, error)
	CompleteQueueItem(ctx context.Context, id string) error

	// Audit log

	AppendAudit(ctx context.Context, e *audit.Entry) error
	ListAudit(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)

	// Failed runs

	// DiscardCase removes a case together with its queue items, its audit
	// entries and its appeals. It succeeds when nothing was written yet.
	DiscardCase(ctx context.Context, id string) error
	// DiscardAppeal removes an appeal with its queue items and audit entries.
	// The referenced case is left as it is.
	DiscardAppeal(ctx context.Context, id string) error

	// Statistics

	// Statistics aggregates counts inside one read-only transaction.
	Statistics(ctx context.Context, window time.Duration) (*stats.Snapshot, error)
	RecordMetric(ctx context.Context, m stats.Metric) error
	ListMetrics(ctx context.Context, name string, limit int) ([]stats.Metric, error)
}
