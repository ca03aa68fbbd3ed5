package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// discardTx runs fn in a transaction that may delete audit_log rows.
func (s *Store) discardTx(ctx context.Context, what string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `SELECT set_config('modguard.discard_run', 'on', true)`); err != nil {
		return fmt.Errorf("%s: enable discard: %w", what, err)
	}
	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

func (s *Store) DiscardCase(ctx context.Context, id string) error {
	return s.discardTx(ctx, "discard case "+id, func(tx pgx.Tx) error {
		stmts := []string{
			`DELETE FROM audit_log WHERE case_id = $1
			    OR appeal_id IN (SELECT id FROM appeals WHERE case_id = $1)`,
			`DELETE FROM review_queue WHERE case_id = $1
			    OR appeal_id IN (SELECT id FROM appeals WHERE case_id = $1)`,
			`DELETE FROM appeals WHERE case_id = $1`,
			`DELETE FROM cases WHERE id = $1`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DiscardAppeal(ctx context.Context, id string) error {
	return s.discardTx(ctx, "discard appeal "+id, func(tx pgx.Tx) error {
		stmts := []string{
			`DELETE FROM audit_log WHERE appeal_id = $1`,
			`DELETE FROM review_queue WHERE appeal_id = $1`,
			`DELETE FROM appeals WHERE id = $1`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}
