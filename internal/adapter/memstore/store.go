// Package memstore provides in-process implementations of the case,
// checkpoint and similarity record stores. All writes of one call happen
// under a single lock, so multi-row operations are atomic.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/domain/stats"
	"github.com/Strob0t/ModGuard/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store is an in-memory database.Store.
type Store struct {
	mu      sync.RWMutex
	cases   map[string]*moderation.Case
	order   []string // case ids in creation order
	appeals map[string]*appeal.Appeal
	queue   []*reviewqueue.Item
	audit   []audit.Entry
	metrics []stats.Metric
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		cases:   make(map[string]*moderation.Case),
		appeals: make(map[string]*appeal.Appeal),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func copyCase(c *moderation.Case) *moderation.Case {
	out := *c
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// --- Cases ---

func (s *Store) CreateCase(_ context.Context, c *moderation.Case) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = database.NewID(database.PrefixCase)
	}
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("create case %s: %w", c.ID, domain.ErrConflict)
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.cases[c.ID] = copyCase(c)
	s.order = append(s.order, c.ID)

	if c.Decision == moderation.DecisionEscalated {
		s.queue = append(s.queue, &reviewqueue.Item{
			ID:        database.NewID(database.PrefixQueue),
			CaseID:    c.ID,
			Priority:  reviewqueue.PriorityHigh,
			Status:    reviewqueue.StatusPending,
			CreatedAt: now,
		})
	}
	s.appendAuditLocked(audit.Entry{
		CaseID:  c.ID,
		Action:  audit.ActionCaseCreated,
		Actor:   audit.ActorSystem,
		Details: caseDetails(c),
	})
	return nil
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

func (s *Store) GetCase(_ context.Context, id string) (*moderation.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("get case %s: %w", id, domain.ErrNotFound)
	}
	return copyCase(c), nil
}

func (s *Store) ListCases(_ context.Context, f moderation.ListFilter) ([]moderation.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := database.ClampLimit(f.Limit)
	var out []moderation.Case
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		c := s.cases[s.order[i]]
		if f.Decision != "" && c.Decision != f.Decision {
			continue
		}
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		if f.AuthorID != "" && c.AuthorID != f.AuthorID {
			continue
		}
		out = append(out, *copyCase(c))
	}
	return out, nil
}

func (s *Store) ListCasesByAuthor(ctx context.Context, authorID string, limit int) ([]moderation.Case, error) {
	return s.ListCases(ctx, moderation.ListFilter{AuthorID: authorID, Limit: limit})
}

func (s *Store) UpdateCaseDecision(_ context.Context, id string, u moderation.DecisionUpdate) (*moderation.Case, error) {
	if !u.Decision.Valid() {
		return nil, fmt.Errorf("update case %s: decision %q: %w", id, u.Decision, domain.ErrInvalidDecision)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("update case %s: %w", id, domain.ErrNotFound)
	}
	next := copyCase(cur)
	next.Decision = u.Decision
	next.Category = u.Category
	next.Severity = u.Severity
	next.Action = u.Action
	next.Reasoning = u.Reasoning
	next.ReviewedBy = u.ReviewedBy
	if err := next.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	next.UpdatedAt = now
	s.cases[id] = next

	for _, it := range s.queue {
		if it.CaseID == id && it.Status != reviewqueue.StatusCompleted {
			it.Status = reviewqueue.StatusCompleted
			it.CompletedAt = &now
		}
	}
	actor := u.ReviewedBy
	if actor == "" {
		actor = audit.ActorSystem
	}
	s.appendAuditLocked(audit.Entry{
		CaseID:  id,
		Action:  audit.ActionDecisionUpdated,
		Actor:   actor,
		Details: caseDetails(next),
	})
	return copyCase(next), nil
}

// --- Appeals ---

func (s *Store) CreateAppeal(_ context.Context, req appeal.Request) (*appeal.Appeal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[req.CaseID]; !ok {
		return nil, fmt.Errorf("appeal case %s: %w", req.CaseID, domain.ErrNotFound)
	}
	if req.ID == "" {
		req.ID = database.NewID(database.PrefixAppeal)
	}
	if _, exists := s.appeals[req.ID]; exists {
		return nil, fmt.Errorf("create appeal %s: %w", req.ID, domain.ErrConflict)
	}
	now := s.now()
	a := &appeal.Appeal{
		ID:              req.ID,
		CaseID:          req.CaseID,
		UserExplanation: req.UserExplanation,
		NewEvidence:     req.NewEvidence,
		Decision:        appeal.DecisionPending,
		CreatedAt:       now,
	}
	s.appeals[a.ID] = a
	s.queue = append(s.queue, &reviewqueue.Item{
		ID:        database.NewID(database.PrefixQueue),
		AppealID:  a.ID,
		Priority:  reviewqueue.PriorityMedium,
		Status:    reviewqueue.StatusPending,
		CreatedAt: now,
	})
	s.appendAuditLocked(audit.Entry{
		CaseID:   a.CaseID,
		AppealID: a.ID,
		Action:   audit.ActionAppealFiled,
		Actor:    audit.ActorSystem,
		Details:  map[string]any{"has_new_evidence": a.NewEvidence != ""},
	})
	out := *a
	return &out, nil
}

func (s *Store) GetAppeal(_ context.Context, id string) (*appeal.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, fmt.Errorf("get appeal %s: %w", id, domain.ErrNotFound)
	}
	out := *a
	return &out, nil
}

func (s *Store) ResolveAppeal(_ context.Context, id string, r appeal.Resolution) (*appeal.Appeal, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appeals[id]
	if !ok {
		return nil, fmt.Errorf("resolve appeal %s: %w", id, domain.ErrNotFound)
	}
	if a.ResolvedAt != nil {
		return nil, fmt.Errorf("resolve appeal %s: already %s: %w", id, a.Decision, domain.ErrConflict)
	}
	c, ok := s.cases[a.CaseID]
	if !ok {
		return nil, fmt.Errorf("resolve appeal %s: case %s: %w", id, a.CaseID, domain.ErrNotFound)
	}

	now := s.now()
	a.Decision = r.Decision
	a.Scores = r.Scores
	a.Composite = r.Composite
	a.Reasoning = r.Reasoning
	a.ResolvedBy = r.ResolvedBy
	a.ResolvedAt = &now

	if r.Decision == appeal.DecisionOverturned {
		c.Decision = moderation.DecisionApproved
		c.Category = ""
		c.Severity = moderation.SeverityNone
		c.Action = moderation.ActionNone
		c.UpdatedAt = now
	}
	for _, it := range s.queue {
		if it.AppealID == id && it.Status != reviewqueue.StatusCompleted {
			it.Status = reviewqueue.StatusCompleted
			it.CompletedAt = &now
		}
	}
	s.appendAuditLocked(audit.Entry{
		CaseID:   a.CaseID,
		AppealID: id,
		Action:   audit.ActionAppealPrefix + string(r.Decision),
		Actor:    r.ResolvedBy,
		Details: map[string]any{
			"composite": r.Composite,
			"reasoning": r.Reasoning,
		},
	})
	out := *a
	return &out, nil
}

// --- Review queue ---

func (s *Store) ReviewQueue(_ context.Context, status reviewqueue.Status, limit int) ([]reviewqueue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first on equal timestamps, as with created_at DESC.
	var items []reviewqueue.Item
	for i := len(s.queue) - 1; i >= 0; i-- {
		if it := s.queue[i]; status == "" || it.Status == status {
			items = append(items, *it)
		}
	}
	slices.SortStableFunc(items, func(a, b reviewqueue.Item) int {
		switch {
		case reviewqueue.Less(&a, &b):
			return -1
		case reviewqueue.Less(&b, &a):
			return 1
		}
		return 0
	})
	if n := database.ClampLimit(limit); len(items) > n {
		items = items[:n]
	}
	return items, nil
}

func (s *Store) findItem(id string) (*reviewqueue.Item, error) {
	for _, it := range s.queue {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, fmt.Errorf("queue item %s: %w", id, domain.ErrNotFound)
}

func (s *Store) GetQueueItem(_ context.Context, id string) (*reviewqueue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, err := s.findItem(id)
	if err != nil {
		return nil, err
	}
	out := *it
	return &out, nil
}

func (s *Store) AssignQueueItem(_ context.Context, id, reviewerID string) (*reviewqueue.Item, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer_id is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.findItem(id)
	if err != nil {
		return nil, err
	}
	if !reviewqueue.CanTransition(it.Status, reviewqueue.StatusInReview) {
		return nil, fmt.Errorf("assign queue item %s in status %s: %w", id, it.Status, domain.ErrConflict)
	}
	now := s.now()
	it.Status = reviewqueue.StatusInReview
	it.AssignedTo = reviewerID
	it.AssignedAt = &now
	s.appendAuditLocked(audit.Entry{
		CaseID:   it.CaseID,
		AppealID: it.AppealID,
		Action:   audit.ActionQueueAssigned,
		Actor:    reviewerID,
		Details:  map[string]any{"queue_item_id": id},
	})
	out := *it
	return &out, nil
}

func (s *Store) CompleteQueueItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.findItem(id)
	if err != nil {
		return err
	}
	if !reviewqueue.CanTransition(it.Status, reviewqueue.StatusCompleted) {
		return fmt.Errorf("complete queue item %s in status %s: %w", id, it.Status, domain.ErrConflict)
	}
	now := s.now()
	it.Status = reviewqueue.StatusCompleted
	it.CompletedAt = &now
	return nil
}

// --- Audit log ---

func (s *Store) AppendAudit(_ context.Context, e *audit.Entry) error {
	if e.Action == "" {
		return fmt.Errorf("audit action is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*e = s.appendAuditLocked(*e)
	return nil
}

func (s *Store) appendAuditLocked(e audit.Entry) audit.Entry {
	if e.ID == "" {
		e.ID = database.NewID(database.PrefixAudit)
	}
	if e.Actor == "" {
		e.Actor = audit.ActorSystem
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Details = maps.Clone(e.Details)
	s.audit = append(s.audit, e)
	return e
}

func (s *Store) ListAudit(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := database.ClampLimit(f.Limit)
	var out []audit.Entry
	for _, e := range s.audit {
		if len(out) == limit {
			break
		}
		if f.CaseID != "" && e.CaseID != f.CaseID {
			continue
		}
		if f.AppealID != "" && e.AppealID != f.AppealID {
			continue
		}
		if !matchAction(f.Action, e.Action) {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// matchAction reports whether action satisfies pattern; a trailing * matches a prefix.
func matchAction(pattern, action string) bool {
	if pattern == "" || pattern == action {
		return true
	}
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	return wildcard && strings.HasPrefix(action, prefix)
}

// --- Failed runs ---

func (s *Store) DiscardCase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appeals := make(map[string]bool)
	for aid, a := range s.appeals {
		if a.CaseID == id {
			appeals[aid] = true
			delete(s.appeals, aid)
		}
	}
	s.queue = slices.DeleteFunc(s.queue, func(it *reviewqueue.Item) bool {
		return it.CaseID == id || appeals[it.AppealID]
	})
	s.audit = slices.DeleteFunc(s.audit, func(e audit.Entry) bool {
		return e.CaseID == id || appeals[e.AppealID]
	})
	if _, ok := s.cases[id]; ok {
		delete(s.cases, id)
		s.order = slices.DeleteFunc(s.order, func(cid string) bool { return cid == id })
	}
	return nil
}

func (s *Store) DiscardAppeal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.appeals, id)
	s.queue = slices.DeleteFunc(s.queue, func(it *reviewqueue.Item) bool { return it.AppealID == id })
	s.audit = slices.DeleteFunc(s.audit, func(e audit.Entry) bool { return e.AppealID == id })
	return nil
}

// --- Statistics ---

func (s *Store) Statistics(_ context.Context, window time.Duration) (*stats.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	snap := &stats.Snapshot{
		TotalCases: len(s.cases),
		ByDecision: make(map[string]int),
		Window:     window,
		TakenAt:    now,
	}
	since := now.Add(-window)
	for _, c := range s.cases {
		snap.ByDecision[string(c.Decision)]++
		if !c.CreatedAt.Before(since) {
			snap.RecentCases++
		}
	}
	for _, it := range s.queue {
		if it.Status == reviewqueue.StatusPending {
			snap.PendingQueue++
		}
	}
	for _, a := range s.appeals {
		if a.ResolvedAt == nil {
			snap.PendingAppeals++
		}
	}
	return snap, nil
}

func (s *Store) RecordMetric(_ context.Context, m stats.Metric) error {
	if m.Name == "" {
		return fmt.Errorf("metric name is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.RecordedAt.IsZero() {
		m.RecordedAt = s.now()
	}
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *Store) ListMetrics(_ context.Context, name string, limit int) ([]stats.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = database.ClampLimit(limit)
	var out []stats.Metric
	for i := len(s.metrics) - 1; i >= 0 && len(out) < limit; i-- {
		if name == "" || s.metrics[i].Name == name {
			out = append(out, s.metrics[i])
		}
	}
	return out, nil
}
