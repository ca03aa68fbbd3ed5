package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Cases ---

const caseColumns = `id, content_type, content, author_id, risk_score, confidence, category, severity,
	decision, action, reasoning, reviewed_by, metadata, created_at, updated_at`

func scanCase(row scannable) (moderation.Case, error) {
	var c moderation.Case
	var contentType, decision string
	var category, severity, action, reviewedBy *string
	var meta []byte
	err := row.Scan(&c.ID, &contentType, &c.Content, &c.AuthorID, &c.RiskScore, &c.Confidence,
		&category, &severity, &decision, &action, &c.Reasoning, &reviewedBy, &meta,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.ContentType = moderation.ContentType(contentType)
	c.Decision = moderation.Decision(decision)
	c.Category = deref(category)
	c.Severity = moderation.Severity(deref(severity))
	c.Action = moderation.Action(deref(action))
	c.ReviewedBy = deref(reviewedBy)
	c.Metadata, err = unmarshalJSONB(meta)
	return c, err
}

func caseDetails(c *moderation.Case) map[string]any {
	return map[string]any{
		"decision":   string(c.Decision),
		"category":   c.Category,
		"severity":   string(c.Severity),
		"action":     string(c.Action),
		"risk_score": c.RiskScore,
		"confidence": c.Confidence,
	}
}

func (s *Store) CreateCase(ctx context.Context, c *moderation.Case) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = database.NewID(database.PrefixCase)
	}
	meta, err := marshalJSONB(c.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	err = tx.QueryRow(ctx,
		`INSERT INTO cases (id, content_type, content, author_id, risk_score, confidence, category, severity,
		                    decision, action, reasoning, reviewed_by, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		c.ID, string(c.ContentType), c.Content, c.AuthorID, c.RiskScore, c.Confidence,
		nullIfEmpty(c.Category), nullIfEmpty(c.Severity), string(c.Decision), nullIfEmpty(c.Action),
		c.Reasoning, nullIfEmpty(c.ReviewedBy), meta,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("create case %s: %w", c.ID, domain.ErrConflict)
	case isCheckViolation(err):
		return fmt.Errorf("create case %s: %v: %w", c.ID, err, domain.ErrValidation)
	case err != nil:
		return fmt.Errorf("create case %s: %w", c.ID, err)
	}

	if c.Decision == moderation.DecisionEscalated {
		if err := insertQueueItem(ctx, tx, c.ID, "", reviewqueue.PriorityHigh); err != nil {
			return err
		}
	}
	if err := insertAudit(ctx, tx, &audit.Entry{
		CaseID:  c.ID,
		Action:  audit.ActionCaseCreated,
		Actor:   audit.ActorSystem,
		Details: caseDetails(c),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create case: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*moderation.Case, error) {
	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get case %s", id)
	}
	return &c, nil
}

func (s *Store) ListCases(ctx context.Context, f moderation.ListFilter) ([]moderation.Case, error) {
	q := psql.Select(caseColumns).From("cases").
		OrderBy("created_at DESC", "id").
		Limit(uint64(database.ClampLimit(f.Limit)))
	if f.Decision != "" {
		q = q.Where(sq.Eq{"decision": string(f.Decision)})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.AuthorID != "" {
		q = q.Where(sq.Eq{"author_id": f.AuthorID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list cases: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []moderation.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return orEmpty(cases), rows.Err()
}

func (s *Store) ListCasesByAuthor(ctx context.Context, authorID string, limit int) ([]moderation.Case, error) {
	return s.ListCases(ctx, moderation.ListFilter{AuthorID: authorID, Limit: limit})
}

func (s *Store) UpdateCaseDecision(ctx context.Context, id string, u moderation.DecisionUpdate) (*moderation.Case, error) {
	if !u.Decision.Valid() {
		return nil, fmt.Errorf("update case %s: decision %q: %w", id, u.Decision, domain.ErrInvalidDecision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	c, err := scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "update case %s", id)
	}
	c.Decision = u.Decision
	c.Category = u.Category
	c.Severity = u.Severity
	c.Action = u.Action
	c.Reasoning = u.Reasoning
	c.ReviewedBy = u.ReviewedBy
	if err := c.Validate(); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE cases SET decision = $2, category = $3, severity = $4, action = $5,
		                  reasoning = $6, reviewed_by = $7, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		id, string(c.Decision), nullIfEmpty(c.Category), nullIfEmpty(c.Severity), nullIfEmpty(c.Action),
		c.Reasoning, nullIfEmpty(c.ReviewedBy),
	).Scan(&c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update case %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE review_queue SET status = 'completed', completed_at = now()
		 WHERE case_id = $1 AND status <> 'completed'`, id); err != nil {
		return nil, fmt.Errorf("complete queue items of case %s: %w", id, err)
	}

	actor := u.ReviewedBy
	if actor == "" {
		actor = audit.ActorSystem
	}
	if err := insertAudit(ctx, tx, &audit.Entry{
		CaseID:  id,
		Action:  audit.ActionDecisionUpdated,
		Actor:   actor,
		Details: caseDetails(&c),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update case: %w", err)
	}
	return &c, nil
}
