// Package service contains the application services of ModGuard: the
// moderation and appeal pipelines, the review queue and statistics.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/ModGuard/internal/port/notifier"
)

// Alert sources.
const (
	SourceCaseEscalated   = "case.escalated"
	SourceAppealEscalated = "appeal.escalated"
	SourceRunFailed       = "run.failed"
)

const alertTimeout = 5 * time.Second

// NotificationService fans moderator alerts out to every configured
// channel. A nil *NotificationService drops alerts.
type NotificationService struct {
	channels []notifier.Notifier
	sources  map[string]bool // empty forwards every source
}

// NewNotificationService builds the alert fan-out. sources limits which
// alert sources are forwarded; nil forwards all of them.
func NewNotificationService(channels []notifier.Notifier, sources []string) *NotificationService {
	s := &NotificationService{channels: channels, sources: make(map[string]bool, len(sources))}
	for _, src := range sources {
		s.sources[src] = true
	}
	return s
}

// Notify delivers n to all channels in parallel and returns once each has
// answered or hit alertTimeout. Delivery failures are logged only.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil || len(s.channels) == 0 {
		return
	}
	if len(s.sources) > 0 && !s.sources[n.Source] {
		return
	}

	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, ch := range s.channels {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			defer cancel()
			if err := ch.Send(sctx, n); err != nil {
				slog.WarnContext(ctx, "alert send failed", "channel", ch.Name(), "source", n.Source, "case_id", n.CaseID, "error", err)
				return nil
			}
			slog.DebugContext(ctx, "alert sent", "channel", ch.Name(), "source", n.Source)
			return nil
		})
	}
	_ = g.Wait()
}
