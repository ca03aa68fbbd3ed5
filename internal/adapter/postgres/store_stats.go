package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/stats"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

// Statistics reads every aggregate inside one repeatable-read, read-only
// transaction so the counts agree with each other.
func (s *Store) Statistics(ctx context.Context, window time.Duration) (*stats.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only

	snap := &stats.Snapshot{ByDecision: make(map[string]int), Window: window}
	if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&snap.TakenAt); err != nil {
		return nil, fmt.Errorf("statistics clock: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT decision, count(*) FROM cases GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("count cases by decision: %w", err)
	}
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		snap.ByDecision[decision] = n
		snap.TotalCases += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count cases by decision: %w", err)
	}

	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&snap.RecentCases, `SELECT count(*) FROM cases WHERE created_at >= $1`, []any{snap.TakenAt.Add(-window)}},
		{&snap.PendingQueue, `SELECT count(*) FROM review_queue WHERE status = 'pending'`, nil},
		{&snap.PendingAppeals, `SELECT count(*) FROM appeals WHERE resolved_at IS NULL`, nil},
	}
	for _, c := range counts {
		if err := tx.QueryRow(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("statistics: %w", err)
		}
	}
	return snap, nil
}

func (s *Store) RecordMetric(ctx context.Context, m stats.Metric) error {
	if m.Name == "" {
		return fmt.Errorf("metric name is required: %w", domain.ErrValidation)
	}
	meta, err := marshalJSONB(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO metrics_snapshot (name, value, metadata, recorded_at)
		 VALUES ($1, $2, $3, COALESCE($4::timestamptz, clock_timestamp()))`,
		m.Name, m.Value, meta, nullTime(m.RecordedAt))
	if err != nil {
		return fmt.Errorf("record metric %s: %w", m.Name, err)
	}
	return nil
}

func (s *Store) ListMetrics(ctx context.Context, name string, limit int) ([]stats.Metric, error) {
	q := psql.Select("name", "value", "metadata", "recorded_at").
		From("metrics_snapshot").
		OrderBy("recorded_at DESC", "id DESC").
		Limit(uint64(database.ClampLimit(limit)))
	if name != "" {
		q = q.Where(sq.Eq{"name": name})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list metrics: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []stats.Metric
	for rows.Next() {
		var m stats.Metric
		var meta []byte
		if err := rows.Scan(&m.Name, &m.Value, &meta, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		if m.Metadata, err = unmarshalJSONB(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return orEmpty(out), rows.Err()
}
