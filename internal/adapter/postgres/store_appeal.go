package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

const appealColumns = `id, case_id, user_explanation, new_evidence, new_evidence_score, policy_score,
	explanation_score, history_score, composite, decision, reasoning, resolved_by, created_at, resolved_at`

func scanAppeal(row scannable) (appeal.Appeal, error) {
	var (
		a                       appeal.Appeal
		decision                string
		newEvidence, resolvedBy *string
	)
	err := row.Scan(&a.ID, &a.CaseID, &a.UserExplanation, &newEvidence,
		&a.Scores.NewEvidence, &a.Scores.Policy, &a.Scores.Explanation, &a.Scores.History,
		&a.Composite, &decision, &a.Reasoning, &resolvedBy, &a.CreatedAt, &a.ResolvedAt)
	a.NewEvidence = deref(newEvidence)
	a.ResolvedBy = deref(resolvedBy)
	a.Decision = appeal.Decision(decision)
	return a, err
}

func (s *Store) CreateAppeal(ctx context.Context, req appeal.Request) (*appeal.Appeal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var one int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM cases WHERE id = $1`, req.CaseID).Scan(&one); err != nil {
		return nil, notFoundWrap(err, "appeal case %s", req.CaseID)
	}

	if req.ID == "" {
		req.ID = database.NewID(database.PrefixAppeal)
	}
	a := &appeal.Appeal{
		ID:              req.ID,
		CaseID:          req.CaseID,
		UserExplanation: req.UserExplanation,
		NewEvidence:     req.NewEvidence,
		Decision:        appeal.DecisionPending,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO appeals (id, case_id, user_explanation, new_evidence, decision)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		a.ID, a.CaseID, a.UserExplanation, nullIfEmpty(a.NewEvidence), string(a.Decision),
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create appeal %s: %w", a.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create appeal: %w", err)
	}

	if err := insertQueueItem(ctx, tx, "", a.ID, reviewqueue.PriorityMedium); err != nil {
		return nil, err
	}
	if err := insertAudit(ctx, tx, &audit.Entry{
		CaseID:   a.CaseID,
		AppealID: a.ID,
		Action:   audit.ActionAppealFiled,
		Actor:    audit.ActorSystem,
		Details:  map[string]any{"has_new_evidence": a.NewEvidence != ""},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create appeal: %w", err)
	}
	return a, nil
}

func (s *Store) GetAppeal(ctx context.Context, id string) (*appeal.Appeal, error) {
	a, err := scanAppeal(s.pool.QueryRow(ctx, `SELECT `+appealColumns+` FROM appeals WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get appeal %s", id)
	}
	return &a, nil
}

func (s *Store) ResolveAppeal(ctx context.Context, id string, r appeal.Resolution) (*appeal.Appeal, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	a, err := scanAppeal(tx.QueryRow(ctx, `SELECT `+appealColumns+` FROM appeals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "resolve appeal %s", id)
	}
	if a.ResolvedAt != nil {
		return nil, fmt.Errorf("resolve appeal %s: already %s: %w", id, a.Decision, domain.ErrConflict)
	}

	a.Decision = r.Decision
	a.Scores = r.Scores
	a.Composite = r.Composite
	a.Reasoning = r.Reasoning
	a.ResolvedBy = r.ResolvedBy
	err = tx.QueryRow(ctx,
		`UPDATE appeals SET decision = $2, new_evidence_score = $3, policy_score = $4, explanation_score = $5,
		                    history_score = $6, composite = $7, reasoning = $8, resolved_by = $9, resolved_at = now()
		 WHERE id = $1 RETURNING resolved_at`,
		id, string(a.Decision), a.Scores.NewEvidence, a.Scores.Policy, a.Scores.Explanation,
		a.Scores.History, a.Composite, a.Reasoning, a.ResolvedBy,
	).Scan(&a.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("resolve appeal %s: %w", id, err)
	}

	if r.Decision == appeal.DecisionOverturned {
		tag, err := tx.Exec(ctx,
			`UPDATE cases SET decision = 'approved', category = NULL, severity = NULL, action = NULL, updated_at = now()
			 WHERE id = $1`, a.CaseID)
		if err := execExpectOne(tag, err, "overturn case %s", a.CaseID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE review_queue SET status = 'completed', completed_at = now()
		 WHERE appeal_id = $1 AND status <> 'completed'`, id); err != nil {
		return nil, fmt.Errorf("complete queue items of appeal %s: %w", id, err)
	}

	if err := insertAudit(ctx, tx, &audit.Entry{
		CaseID:   a.CaseID,
		AppealID: id,
		Action:   audit.ActionAppealPrefix + string(r.Decision),
		Actor:    r.ResolvedBy,
		Details: map[string]any{
			"composite": r.Composite,
			"reasoning": r.Reasoning,
		},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit resolve appeal: %w", err)
	}
	return &a, nil
}
