// Package databasetest provides a conformance suite for database.Store
// implementations. The suite tolerates a shared, non-empty database: every
// test uses fresh author ids and asserts on deltas where it aggregates.
package databasetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/domain/stats"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

// Run exercises the store contract against the store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) database.Store) {
	t.Helper()

	t.Run("CreateEscalatedCaseQueuesHighPriority", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := escalatedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
		if c.ID == "" || c.CreatedAt.IsZero() {
			t.Fatalf("expected id and timestamps to be set: %+v", c)
		}

		item := findCaseItem(t, s, c.ID)
		if item == nil {
			t.Fatal("escalated case has no pending queue item")
		}
		if item.Priority != reviewqueue.PriorityHigh {
			t.Fatalf("expected high priority, got %s", item.Priority)
		}

		entries, err := s.ListAudit(ctx, audit.Filter{CaseID: c.ID})
		if err != nil {
			t.Fatalf("ListAudit: %v", err)
		}
		if len(entries) != 1 || entries[0].Action != audit.ActionCaseCreated {
			t.Fatalf("expected one case_created entry, got %+v", entries)
		}
	})

	t.Run("CreateApprovedCaseNotQueued", func(t *testing.T) {
		s := newStore(t)
		c := approvedCase()
		if err := s.CreateCase(context.Background(), c); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
		if item := findCaseItem(t, s, c.ID); item != nil {
			t.Fatalf("approved case must not be queued: %+v", item)
		}
	})

	t.Run("CreateInvalidCaseWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := approvedCase()
		c.ID = database.NewID(database.PrefixCase)
		c.Category = "harassment"
		c.Severity = moderation.SeverityHigh
		if err := s.CreateCase(ctx, c); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if _, err := s.GetCase(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("invalid case must not be stored, got %v", err)
		}
		if entries, _ := s.ListAudit(ctx, audit.Filter{CaseID: c.ID}); len(entries) != 0 {
			t.Fatalf("invalid case must not be audited, got %d entries", len(entries))
		}
	})

	t.Run("GetCaseRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := escalatedCase()
		c.Metadata = map[string]any{"lang": "en"}
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCase: %v", err)
		}
		if got.Decision != c.Decision || got.Category != c.Category || got.Severity != c.Severity ||
			got.Action != c.Action || got.AuthorID != c.AuthorID || got.Metadata["lang"] != "en" {
			t.Fatalf("round trip mismatch: %+v", got)
		}
		if _, err := s.GetCase(ctx, "case_missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateCaseDecisionCompletesQueue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := escalatedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		updated, err := s.UpdateCaseDecision(ctx, c.ID, moderation.DecisionUpdate{
			Decision:   moderation.DecisionApproved,
			Reasoning:  "false positive",
			ReviewedBy: "mod-1",
		})
		if err != nil {
			t.Fatalf("UpdateCaseDecision: %v", err)
		}
		if updated.Decision != moderation.DecisionApproved || updated.ReviewedBy != "mod-1" || updated.Category != "" {
			t.Fatalf("unexpected case after update: %+v", updated)
		}
		if item := findCaseItem(t, s, c.ID); item != nil {
			t.Fatalf("queue item must be completed, still pending: %+v", item)
		}
		entries, _ := s.ListAudit(ctx, audit.Filter{CaseID: c.ID, Action: audit.ActionDecisionUpdated})
		if len(entries) != 1 || entries[0].Actor != "mod-1" {
			t.Fatalf("expected decision_updated by mod-1, got %+v", entries)
		}

		if _, err := s.UpdateCaseDecision(ctx, c.ID, moderation.DecisionUpdate{Decision: "maybe"}); !errors.Is(err, domain.ErrInvalidDecision) {
			t.Fatalf("expected ErrInvalidDecision, got %v", err)
		}
		if _, err := s.UpdateCaseDecision(ctx, "case_missing", moderation.DecisionUpdate{Decision: moderation.DecisionApproved}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListCasesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		author := "author-" + uuid.NewString()
		a := approvedCase()
		a.AuthorID = author
		e := escalatedCase()
		e.AuthorID = author
		for _, c := range []*moderation.Case{a, e} {
			if err := s.CreateCase(ctx, c); err != nil {
				t.Fatal(err)
			}
			time.Sleep(2 * time.Millisecond)
		}

		all, err := s.ListCasesByAuthor(ctx, author, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].ID != e.ID {
			t.Fatalf("expected 2 cases newest first, got %+v", all)
		}
		esc, err := s.ListCases(ctx, moderation.ListFilter{AuthorID: author, Decision: moderation.DecisionEscalated})
		if err != nil {
			t.Fatal(err)
		}
		if len(esc) != 1 || esc[0].ID != e.ID {
			t.Fatalf("expected only the escalated case, got %+v", esc)
		}
	})

	t.Run("ReviewQueueOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older := escalatedCase()
		newer := escalatedCase()
		for _, c := range []*moderation.Case{older, newer} {
			if err := s.CreateCase(ctx, c); err != nil {
				t.Fatal(err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		ap, err := s.CreateAppeal(ctx, appeal.Request{CaseID: older.ID, UserExplanation: "context was a joke"})
		if err != nil {
			t.Fatal(err)
		}

		items, err := s.ReviewQueue(ctx, reviewqueue.StatusPending, database.MaxLimit)
		if err != nil {
			t.Fatal(err)
		}
		pos := func(match func(reviewqueue.Item) bool) int {
			for i, it := range items {
				if match(it) {
					return i
				}
			}
			return -1
		}
		pNewer := pos(func(it reviewqueue.Item) bool { return it.CaseID == newer.ID })
		pOlder := pos(func(it reviewqueue.Item) bool { return it.CaseID == older.ID })
		pAppeal := pos(func(it reviewqueue.Item) bool { return it.AppealID == ap.ID })
		if pNewer < 0 || pOlder < 0 || pAppeal < 0 {
			t.Fatalf("missing items: newer=%d older=%d appeal=%d", pNewer, pOlder, pAppeal)
		}
		if !(pNewer < pOlder && pOlder < pAppeal) {
			t.Fatalf("expected newer high, older high, then medium appeal; got %d %d %d", pNewer, pOlder, pAppeal)
		}
		for i := 1; i < len(items); i++ {
			if items[i].Priority.Rank() < items[i-1].Priority.Rank() {
				t.Fatalf("priority order broken at %d", i)
			}
		}
	})

	t.Run("QueueItemTransitions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := escalatedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		item := findCaseItem(t, s, c.ID)

		assigned, err := s.AssignQueueItem(ctx, item.ID, "mod-7")
		if err != nil {
			t.Fatalf("AssignQueueItem: %v", err)
		}
		if assigned.Status != reviewqueue.StatusInReview || assigned.AssignedTo != "mod-7" || assigned.AssignedAt == nil {
			t.Fatalf("unexpected assigned item: %+v", assigned)
		}
		if _, err := s.AssignQueueItem(ctx, item.ID, "mod-8"); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict on reassign, got %v", err)
		}
		if err := s.CompleteQueueItem(ctx, item.ID); err != nil {
			t.Fatalf("CompleteQueueItem: %v", err)
		}
		if err := s.CompleteQueueItem(ctx, item.ID); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict on second completion, got %v", err)
		}
		got, err := s.GetQueueItem(ctx, item.ID)
		if err != nil || got.Status != reviewqueue.StatusCompleted || got.CompletedAt == nil {
			t.Fatalf("unexpected completed item: %+v, %v", got, err)
		}
		if _, err := s.AssignQueueItem(ctx, "queue_missing", "mod-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AppealLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := rejectedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateAppeal(ctx, appeal.Request{CaseID: "case_missing", UserExplanation: "x"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown case, got %v", err)
		}

		ap, err := s.CreateAppeal(ctx, appeal.Request{CaseID: c.ID, UserExplanation: "I was quoting", NewEvidence: "screenshot"})
		if err != nil {
			t.Fatalf("CreateAppeal: %v", err)
		}
		if ap.Decision != appeal.DecisionPending || ap.ResolvedAt != nil {
			t.Fatalf("new appeal must be pending: %+v", ap)
		}

		res := appeal.Resolution{
			Decision:   appeal.DecisionOverturned,
			Scores:     appeal.Scores{NewEvidence: 0.9, Policy: 0.8, Explanation: 0.7, History: 0.9},
			Composite:  0.83,
			Reasoning:  "new evidence",
			ResolvedBy: audit.ActorSystem,
		}
		resolved, err := s.ResolveAppeal(ctx, ap.ID, res)
		if err != nil {
			t.Fatalf("ResolveAppeal: %v", err)
		}
		if resolved.Decision != appeal.DecisionOverturned || resolved.ResolvedAt == nil || resolved.Composite != 0.83 {
			t.Fatalf("resolution fields not written: %+v", resolved)
		}

		after, err := s.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if after.Decision != moderation.DecisionApproved || after.Category != "" || after.Action != moderation.ActionNone {
			t.Fatalf("overturned appeal must approve the case: %+v", after)
		}

		if _, err := s.ResolveAppeal(ctx, ap.ID, res); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict on second resolution, got %v", err)
		}
		entries, _ := s.ListAudit(ctx, audit.Filter{AppealID: ap.ID})
		if len(entries) != 2 || entries[0].Action != audit.ActionAppealFiled || entries[1].Action != "appeal_overturned" {
			t.Fatalf("unexpected appeal audit trail: %+v", entries)
		}
	})

	t.Run("UpheldAppealKeepsCase", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := rejectedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		ap, err := s.CreateAppeal(ctx, appeal.Request{CaseID: c.ID, UserExplanation: "please"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.ResolveAppeal(ctx, ap.ID, appeal.Resolution{Decision: appeal.DecisionEscalated, ResolvedBy: "x"}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("escalated is not a resolution, got %v", err)
		}
		if _, err := s.ResolveAppeal(ctx, ap.ID, appeal.Resolution{Decision: appeal.DecisionUpheld, ResolvedBy: "mod-2"}); err != nil {
			t.Fatal(err)
		}
		after, _ := s.GetCase(ctx, c.ID)
		if after.Decision != moderation.DecisionRejected || after.Category != c.Category {
			t.Fatalf("upheld appeal must not change the case: %+v", after)
		}
	})

	t.Run("AuditAppendAndFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		caseID := database.NewID(database.PrefixCase)
		for _, action := range []string{audit.ActionIntake, "moderation_action_warn", audit.ActionUserNotification} {
			e := &audit.Entry{CaseID: caseID, Action: action, Details: map[string]any{"step": action}}
			if err := s.AppendAudit(ctx, e); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
			if e.ID == "" || e.Timestamp.IsZero() || e.Actor != audit.ActorSystem {
				t.Fatalf("expected id, timestamp and default actor: %+v", e)
			}
			time.Sleep(2 * time.Millisecond)
		}

		all, err := s.ListAudit(ctx, audit.Filter{CaseID: caseID})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 || all[0].Action != audit.ActionIntake || all[2].Action != audit.ActionUserNotification {
			t.Fatalf("expected chronological trail, got %+v", all)
		}
		if all[1].Details["step"] != "moderation_action_warn" {
			t.Fatalf("details not preserved: %+v", all[1].Details)
		}
		actions, _ := s.ListAudit(ctx, audit.Filter{CaseID: caseID, Action: audit.ActionModerationPrefix + "*"})
		if len(actions) != 1 {
			t.Fatalf("expected prefix match, got %+v", actions)
		}
		if err := s.AppendAudit(ctx, &audit.Entry{CaseID: caseID}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation for missing action, got %v", err)
		}
	})

	t.Run("StatisticsDelta", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		before, err := s.Statistics(ctx, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		rej := rejectedCase()
		for _, c := range []*moderation.Case{escalatedCase(), approvedCase(), rej} {
			if err := s.CreateCase(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.CreateAppeal(ctx, appeal.Request{CaseID: rej.ID, UserExplanation: "x"}); err != nil {
			t.Fatal(err)
		}
		after, err := s.Statistics(ctx, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if d := after.TotalCases - before.TotalCases; d != 3 {
			t.Fatalf("expected 3 new cases, got %d", d)
		}
		if d := after.RecentCases - before.RecentCases; d != 3 {
			t.Fatalf("expected 3 recent cases, got %d", d)
		}
		if d := after.ByDecision["escalated"] - before.ByDecision["escalated"]; d != 1 {
			t.Fatalf("expected 1 new escalated case, got %d", d)
		}
		if d := after.PendingQueue - before.PendingQueue; d != 2 {
			t.Fatalf("expected 2 new pending queue items, got %d", d)
		}
		if d := after.PendingAppeals - before.PendingAppeals; d != 1 {
			t.Fatalf("expected 1 new pending appeal, got %d", d)
		}
	})

	t.Run("DiscardCaseRemovesEveryTrace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		before, err := s.Statistics(ctx, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		c := escalatedCase()
		c.ID = database.NewID(database.PrefixCase)
		if err := s.AppendAudit(ctx, &audit.Entry{CaseID: c.ID, Action: audit.ActionIntake}); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		ap, err := s.CreateAppeal(ctx, appeal.Request{CaseID: c.ID, UserExplanation: "not me"})
		if err != nil {
			t.Fatal(err)
		}

		if err := s.DiscardCase(ctx, c.ID); err != nil {
			t.Fatalf("DiscardCase: %v", err)
		}
		if _, err := s.GetCase(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for discarded case, got %v", err)
		}
		if _, err := s.GetAppeal(ctx, ap.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for appeal of discarded case, got %v", err)
		}
		if item := findCaseItem(t, s, c.ID); item != nil {
			t.Fatalf("queue item survived discard: %+v", item)
		}
		if entries, _ := s.ListAudit(ctx, audit.Filter{CaseID: c.ID}); len(entries) != 0 {
			t.Fatalf("audit entries survived discard: %+v", entries)
		}
		after, err := s.Statistics(ctx, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if after.PendingQueue != before.PendingQueue || after.PendingAppeals != before.PendingAppeals {
			t.Fatalf("pending counts changed: queue %d -> %d, appeals %d -> %d",
				before.PendingQueue, after.PendingQueue, before.PendingAppeals, after.PendingAppeals)
		}

		if err := s.DiscardCase(ctx, c.ID); err != nil {
			t.Fatalf("second DiscardCase: %v", err)
		}
	})

	t.Run("DiscardAppealKeepsCase", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := rejectedCase()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatal(err)
		}
		ap, err := s.CreateAppeal(ctx, appeal.Request{CaseID: c.ID, UserExplanation: "context matters"})
		if err != nil {
			t.Fatal(err)
		}

		if err := s.DiscardAppeal(ctx, ap.ID); err != nil {
			t.Fatalf("DiscardAppeal: %v", err)
		}
		if _, err := s.GetAppeal(ctx, ap.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for discarded appeal, got %v", err)
		}
		items, err := s.ReviewQueue(ctx, "", database.MaxLimit)
		if err != nil {
			t.Fatal(err)
		}
		for _, it := range items {
			if it.AppealID == ap.ID {
				t.Fatalf("queue item survived discard: %+v", it)
			}
		}
		if entries, _ := s.ListAudit(ctx, audit.Filter{AppealID: ap.ID}); len(entries) != 0 {
			t.Fatalf("appeal audit entries survived discard: %+v", entries)
		}
		got, err := s.GetCase(ctx, c.ID)
		if err != nil || got.Decision != moderation.DecisionRejected {
			t.Fatalf("case must survive appeal discard: %+v, %v", got, err)
		}
		if entries, _ := s.ListAudit(ctx, audit.Filter{CaseID: c.ID}); len(entries) != 1 {
			t.Fatalf("expected only case_created to remain, got %+v", entries)
		}
		if err := s.DiscardAppeal(ctx, "appeal_missing"); err != nil {
			t.Fatalf("discarding an unknown appeal: %v", err)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := "test_metric_" + uuid.NewString()[:8]
		for i, v := range []float64{1, 2, 3} {
			m := stats.Metric{Name: name, Value: v, Metadata: map[string]any{"i": i}}
			if err := s.RecordMetric(ctx, m); err != nil {
				t.Fatal(err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		got, err := s.ListMetrics(ctx, name, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Value != 3 || got[1].Value != 2 {
			t.Fatalf("expected newest two metrics, got %+v", got)
		}
	})
}

func findCaseItem(t *testing.T, s database.Store, caseID string) *reviewqueue.Item {
	t.Helper()
	items, err := s.ReviewQueue(context.Background(), reviewqueue.StatusPending, database.MaxLimit)
	if err != nil {
		t.Fatalf("ReviewQueue: %v", err)
	}
	for i := range items {
		if items[i].CaseID == caseID {
			return &items[i]
		}
	}
	return nil
}

func escalatedCase() *moderation.Case {
	return &moderation.Case{
		ContentType: moderation.ContentMessage,
		Content:     "borderline message",
		AuthorID:    "author-" + uuid.NewString(),
		RiskScore:   0.48,
		Confidence:  0.8,
		Category:    "harassment",
		Severity:    moderation.SeverityMedium,
		Decision:    moderation.DecisionEscalated,
		Action:      moderation.ActionFlagForReview,
		Reasoning:   "needs a human",
	}
}

func approvedCase() *moderation.Case {
	return &moderation.Case{
		ContentType: moderation.ContentBio,
		Content:     "I like hiking",
		AuthorID:    "author-" + uuid.NewString(),
		Confidence:  0.95,
		Decision:    moderation.DecisionApproved,
		Reasoning:   "benign",
	}
}

func rejectedCase() *moderation.Case {
	return &moderation.Case{
		ContentType: moderation.ContentMessage,
		Content:     "send me gift cards",
		AuthorID:    "author-" + uuid.NewString(),
		RiskScore:   0.76,
		Confidence:  0.95,
		Category:    "scam",
		Severity:    moderation.SeverityHigh,
		Decision:    moderation.DecisionRejected,
		Action:      moderation.ActionPermanentBan,
		Reasoning:   "classic gift card scam",
	}
}
