package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/ModGuard/internal/adapter/hashembed"
	"github.com/Strob0t/ModGuard/internal/adapter/memstore"
	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/port/messagequeue"
	"github.com/Strob0t/ModGuard/internal/port/notifier"
	"github.com/Strob0t/ModGuard/internal/similarity"
)

// fakeQueue records published messages.
type fakeQueue struct {
	mu        sync.Mutex
	published []string
	payloads  map[string][][]byte
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, subject)
	if q.payloads == nil {
		q.payloads = make(map[string][][]byte)
	}
	q.payloads[subject] = append(q.payloads[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads[subject])
}

// fakeHub records broadcast event types.
type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *fakeHub) has(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// scriptedClassifier returns a fixed response and records prompts.
type scriptedClassifier struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (c *scriptedClassifier) Classify(_ context.Context, _, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

func (c *scriptedClassifier) set(response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = response
	c.err = nil
}

func (c *scriptedClassifier) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func verdict(violation bool, category, severity string, confidence float64) string {
	yes := "no"
	if violation {
		yes = "yes"
	}
	return fmt.Sprintf("VIOLATION: %s\nTYPE: %s\nSEVERITY: %s\nCONFIDENCE: %.2f\nREASONING: scripted verdict",
		yes, category, severity, confidence)
}

func appealVerdict(score float64) string {
	return fmt.Sprintf("NEW_EVIDENCE_SCORE: %.2f\nPOLICY_SCORE: %.2f\nEXPLANATION_SCORE: %.2f\nHISTORY_SCORE: %.2f\nRECOMMENDATION: escalate\nREASONING: scripted appeal",
		score, score, score, score)
}

type harness struct {
	store       *memstore.Store
	checkpoints *memstore.CheckpointStore
	sim         *SimilarityService
	queue       *fakeQueue
	hub         *fakeHub
	alerts      *recordingNotifier
	modLLM      *scriptedClassifier
	appealLLM   *scriptedClassifier
	mod         *ModerationService
	appeals     *AppealService
	review      *ReviewService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()

	h := &harness{
		store:       memstore.New(),
		checkpoints: memstore.NewCheckpointStore(),
		queue:       &fakeQueue{},
		hub:         &fakeHub{},
		alerts:      &recordingNotifier{name: "mock"},
		modLLM:      &scriptedClassifier{},
		appealLLM:   &scriptedClassifier{},
	}
	h.sim = NewSimilarityService(similarity.New(similarity.Options{}), hashembed.New(64), &cfg.Similarity)
	alerts := NewNotificationService([]notifier.Notifier{h.alerts}, nil)

	var err error
	h.mod, err = NewModerationService(h.store, h.checkpoints, h.modLLM, h.sim, &cfg.Scoring, &cfg.Prompts)
	if err != nil {
		t.Fatalf("moderation service: %v", err)
	}
	h.mod.SetQueue(h.queue)
	h.mod.SetBroadcaster(h.hub)
	h.mod.SetAlerts(alerts)

	h.appeals, err = NewAppealService(h.store, h.checkpoints, h.appealLLM, h.sim, &cfg.Scoring, &cfg.Prompts)
	if err != nil {
		t.Fatalf("appeal service: %v", err)
	}
	h.appeals.SetQueue(h.queue)
	h.appeals.SetBroadcaster(h.hub)
	h.appeals.SetAlerts(alerts)

	h.review = NewReviewService(h.store, h.mod, h.appeals, h.hub)
	return h
}

var _ llm.Classifier = (*scriptedClassifier)(nil)

func auditActions(t *testing.T, h *harness, caseID string) []string {
	t.Helper()
	entries, err := h.mod.CaseAudit(context.Background(), caseID)
	if err != nil {
		t.Fatalf("case audit: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func joined(ss []string) string { return strings.Join(ss, ",") }

func auditFilterAction(caseID, action string) audit.Filter {
	return audit.Filter{CaseID: caseID, Action: action}
}

var errDiskFull = errors.New("disk full")

// suspendFailStore refuses to persist a suspended checkpoint.
type suspendFailStore struct {
	*memstore.CheckpointStore
}

func (s suspendFailStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	if cp.Status == checkpoint.StatusSuspended {
		return errDiskFull
	}
	return s.CheckpointStore.Update(ctx, cp, expectedVersion)
}

// auditFailStore fails every audit append of one action.
type auditFailStore struct {
	*memstore.Store
	action string
}

func (s auditFailStore) AppendAudit(ctx context.Context, e *audit.Entry) error {
	if e.Action == s.action {
		return errDiskFull
	}
	return s.Store.AppendAudit(ctx, e)
}
