package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func insertAudit(ctx context.Context, q querier, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = database.NewID(database.PrefixAudit)
	}
	if e.Actor == "" {
		e.Actor = audit.ActorSystem
	}
	details, err := marshalJSONB(e.Details)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx,
		`INSERT INTO audit_log (id, case_id, appeal_id, action, actor, details, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, clock_timestamp()))
		 RETURNING timestamp`,
		e.ID, nullIfEmpty(e.CaseID), nullIfEmpty(e.AppealID), e.Action, e.Actor, details, nullTime(e.Timestamp),
	).Scan(&e.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.Action, err)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	if e.Action == "" {
		return fmt.Errorf("audit action is required: %w", domain.ErrValidation)
	}
	return insertAudit(ctx, s.pool, e)
}

func (s *Store) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q := psql.Select("id", "case_id", "appeal_id", "action", "actor", "details", "timestamp").
		From("audit_log").
		OrderBy("seq").
		Limit(uint64(database.ClampLimit(f.Limit)))
	if f.CaseID != "" {
		q = q.Where(sq.Eq{"case_id": f.CaseID})
	}
	if f.AppealID != "" {
		q = q.Where(sq.Eq{"appeal_id": f.AppealID})
	}
	if prefix, ok := strings.CutSuffix(f.Action, "*"); ok {
		q = q.Where(sq.Like{"action": likeEscaper.Replace(prefix) + "%"})
	} else if f.Action != "" {
		q = q.Where(sq.Eq{"action": f.Action})
	}
	if f.Actor != "" {
		q = q.Where(sq.Eq{"actor": f.Actor})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"timestamp": f.Since})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list audit: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var caseID, appealID *string
		var details []byte
		if err := rows.Scan(&e.ID, &caseID, &appealID, &e.Action, &e.Actor, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CaseID = deref(caseID)
		e.AppealID = deref(appealID)
		if e.Details, err = unmarshalJSONB(details); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return orEmpty(entries), rows.Err()
}
