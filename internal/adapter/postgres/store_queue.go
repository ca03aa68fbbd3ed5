package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

const queueColumns = `id, case_id, appeal_id, priority, status, assigned_to, created_at, assigned_at, completed_at`

// priorityRank orders urgent, high, medium, low; unknown values last.
const priorityRank = `CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

func scanQueueItem(row scannable) (reviewqueue.Item, error) {
	var it reviewqueue.Item
	var caseID, appealID, assignedTo *string
	var priority, status string
	err := row.Scan(&it.ID, &caseID, &appealID, &priority, &status, &assignedTo,
		&it.CreatedAt, &it.AssignedAt, &it.CompletedAt)
	it.CaseID = deref(caseID)
	it.AppealID = deref(appealID)
	it.AssignedTo = deref(assignedTo)
	it.Priority = reviewqueue.Priority(priority)
	it.Status = reviewqueue.Status(status)
	return it, err
}

func insertQueueItem(ctx context.Context, q querier, caseID, appealID string, priority reviewqueue.Priority) error {
	id := database.NewID(database.PrefixQueue)
	_, err := q.Exec(ctx,
		`INSERT INTO review_queue (id, case_id, appeal_id, priority, status) VALUES ($1, $2, $3, $4, 'pending')`,
		id, nullIfEmpty(caseID), nullIfEmpty(appealID), string(priority))
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (s *Store) ReviewQueue(ctx context.Context, status reviewqueue.Status, limit int) ([]reviewqueue.Item, error) {
	q := psql.Select(queueColumns).From("review_queue").
		OrderBy(priorityRank, "created_at DESC").
		Limit(uint64(database.ClampLimit(limit)))
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build review queue: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("review queue: %w", err)
	}
	defer rows.Close()

	var items []reviewqueue.Item
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	return orEmpty(items), rows.Err()
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*reviewqueue.Item, error) {
	it, err := scanQueueItem(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM review_queue WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get queue item %s", id)
	}
	return &it, nil
}

func (s *Store) AssignQueueItem(ctx context.Context, id, reviewerID string) (*reviewqueue.Item, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer_id is required: %w", domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	cur, err := scanQueueItem(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM review_queue WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "assign queue item %s", id)
	}
	if !reviewqueue.CanTransition(cur.Status, reviewqueue.StatusInReview) {
		return nil, fmt.Errorf("assign queue item %s in status %s: %w", id, cur.Status, domain.ErrConflict)
	}

	it, err := scanQueueItem(tx.QueryRow(ctx,
		`UPDATE review_queue SET status = 'in_review', assigned_to = $2, assigned_at = now()
		 WHERE id = $1 RETURNING `+queueColumns, id, reviewerID))
	if err != nil {
		return nil, fmt.Errorf("assign queue item %s: %w", id, err)
	}
	if err := insertAudit(ctx, tx, &audit.Entry{
		CaseID:   it.CaseID,
		AppealID: it.AppealID,
		Action:   audit.ActionQueueAssigned,
		Actor:    reviewerID,
		Details:  map[string]any{"queue_item_id": id},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit assign queue item: %w", err)
	}
	return &it, nil
}

func (s *Store) CompleteQueueItem(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM review_queue WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
		return notFoundWrap(err, "complete queue item %s", id)
	}
	if !reviewqueue.CanTransition(reviewqueue.Status(status), reviewqueue.StatusCompleted) {
		return fmt.Errorf("complete queue item %s in status %s: %w", id, status, domain.ErrConflict)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE review_queue SET status = 'completed', completed_at = now() WHERE id = $1`, id)
	if err := execExpectOne(tag, err, "complete queue item %s", id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete queue item: %w", err)
	}
	return nil
}
