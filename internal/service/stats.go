package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain/stats"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

// Metric names written by the snapshot job.
const (
	MetricTotalCases     = "total_cases"
	MetricRecentCases    = "recent_cases"
	MetricPendingQueue   = "pending_queue"
	MetricPendingAppeals = "pending_appeals"
	metricDecisionPrefix = "decisions_"
)

// StatsService aggregates moderation statistics and records periodic snapshots.
type StatsService struct {
	store database.Store
	cfg   *config.Scheduler
	cron  *cron.Cron
}

// NewStatsService creates a StatsService.
func NewStatsService(store database.Store, cfg *config.Scheduler) *StatsService {
	return &StatsService{store: store, cfg: cfg}
}

// Snapshot aggregates statistics over window; zero uses the configured window.
func (s *StatsService) Snapshot(ctx context.Context, window time.Duration) (*stats.Snapshot, error) {
	if window <= 0 {
		window = s.cfg.StatsWindow
	}
	return s.store.Statistics(ctx, window)
}

// Record takes a snapshot and writes one metric row per figure.
func (s *StatsService) Record(ctx context.Context) (*stats.Snapshot, error) {
	snap, err := s.Snapshot(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	md := map[string]any{"window": snap.Window.String()}
	metrics := []stats.Metric{
		{Name: MetricTotalCases, Value: float64(snap.TotalCases)},
		{Name: MetricRecentCases, Value: float64(snap.RecentCases), Metadata: md},
		{Name: MetricPendingQueue, Value: float64(snap.PendingQueue)},
		{Name: MetricPendingAppeals, Value: float64(snap.PendingAppeals)},
	}
	for decision, n := range snap.ByDecision {
		metrics = append(metrics, stats.Metric{Name: metricDecisionPrefix + decision, Value: float64(n)})
	}
	for _, m := range metrics {
		m.RecordedAt = snap.TakenAt
		if err := s.store.RecordMetric(ctx, m); err != nil {
			return nil, fmt.Errorf("record metric %s: %w", m.Name, err)
		}
	}
	return snap, nil
}

// History returns recorded samples of one metric, newest first.
func (s *StatsService) History(ctx context.Context, name string, limit int) ([]stats.Metric, error) {
	return s.store.ListMetrics(ctx, name, database.ClampLimit(limit))
}

// StartScheduler runs Record on the configured cron schedule until Stop.
// An empty schedule disables the job.
func (s *StatsService) StartScheduler(ctx context.Context) error {
	spec := strings.TrimSpace(s.cfg.StatsCron)
	if spec == "" {
		slog.Info("statistics snapshots disabled")
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(spec, func() {
		snap, err := s.Record(ctx)
		if err != nil {
			slog.Error("statistics snapshot failed", "error", err)
			return
		}
		slog.Info("statistics snapshot recorded",
			"total_cases", snap.TotalCases,
			"pending_queue", snap.PendingQueue,
		)
	}); err != nil {
		return fmt.Errorf("stats schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("statistics snapshots scheduled", "cron", spec)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *StatsService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
