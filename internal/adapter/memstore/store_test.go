package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/port/database"
	"github.com/Strob0t/ModGuard/internal/port/database/databasetest"
)

func TestStoreConformance(t *testing.T) {
	databasetest.Run(t, func(t *testing.T) database.Store {
		return New()
	})
}

func TestMatchAction(t *testing.T) {
	tests := []struct {
		pattern, action string
		want            bool
	}{
		{"", "intake", true},
		{"intake", "intake", true},
		{"intake", "case_created", false},
		{"moderation_action_*", "moderation_action_warn", true},
		{"moderation_action_*", "appeal_upheld", false},
	}
	for _, tt := range tests {
		if got := matchAction(tt.pattern, tt.action); got != tt.want {
			t.Errorf("matchAction(%q, %q) = %v, want %v", tt.pattern, tt.action, got, tt.want)
		}
	}
}

func TestReviewQueueEqualTimestampsNewestFirst(t *testing.T) {
	s := New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })
	ctx := context.Background()

	var ids []string
	for range 3 {
		c := &moderation.Case{
			ContentType: moderation.ContentMessage,
			Content:     "borderline",
			AuthorID:    "author-1",
			RiskScore:   0.5,
			Confidence:  0.7,
			Category:    "harassment",
			Severity:    moderation.SeverityMedium,
			Decision:    moderation.DecisionEscalated,
			Action:      moderation.ActionFlagForReview,
		}
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}

	items, err := s.ReviewQueue(ctx, reviewqueue.StatusPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, it := range items {
		if want := ids[len(ids)-1-i]; it.CaseID != want {
			t.Errorf("position %d: got case %s, want %s", i, it.CaseID, want)
		}
	}
}
