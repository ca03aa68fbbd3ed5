package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/port/broadcast"
	"github.com/Strob0t/ModGuard/internal/port/database"
	"github.com/Strob0t/ModGuard/internal/workflow"
)

// ResumeRequest is a reviewer decision for any suspended thread.
type ResumeRequest struct {
	Decision   string `json:"decision"`
	Reasoning  string `json:"reasoning"`
	ReviewerID string `json:"reviewer_id"`
}

// ResumeResult reports the outcome of a resumed thread.
type ResumeResult struct {
	ThreadID   string           `json:"thread_id"`
	Status     workflow.Outcome `json:"status"`
	Decision   string           `json:"decision"`
	ReviewedBy string           `json:"reviewed_by"`
	Case       *moderation.Case `json:"case,omitempty"`
	Appeal     *appeal.Appeal   `json:"appeal,omitempty"`
}

// ThreadView is the inspectable state of a suspended thread.
type ThreadView struct {
	ThreadID string `json:"thread_id"`
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
	NextStep string `json:"next_step"`
	Version  int64  `json:"version"`
	State    any    `json:"state"`
}

// ReviewService serves the review queue and routes reviewer decisions to
// the pipeline that owns the thread. Thread IDs carry the prefix of the
// entity they belong to.
type ReviewService struct {
	store      database.Store
	moderation *ModerationService
	appeals    *AppealService
	hub        broadcast.Broadcaster
}

// NewReviewService creates a ReviewService.
func NewReviewService(store database.Store, mod *ModerationService, appeals *AppealService, hub broadcast.Broadcaster) *ReviewService {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &ReviewService{store: store, moderation: mod, appeals: appeals, hub: hub}
}

// Queue lists review queue items by status, highest priority first.
func (s *ReviewService) Queue(ctx context.Context, status reviewqueue.Status, limit int) ([]reviewqueue.Item, error) {
	if status != "" && !reviewqueue.ValidStatus(status) {
		return nil, fmt.Errorf("status %q: %w", status, domain.ErrValidation)
	}
	return s.store.ReviewQueue(ctx, status, database.ClampLimit(limit))
}

// Assign moves a pending item to in_review for reviewerID.
func (s *ReviewService) Assign(ctx context.Context, itemID, reviewerID string) (*reviewqueue.Item, error) {
	it, err := s.store.AssignQueueItem(ctx, itemID, reviewerID)
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventQueueChanged, broadcast.QueueChangedEvent{
		ThreadID: threadOf(it),
		CaseID:   it.CaseID,
		AppealID: it.AppealID,
		ItemID:   it.ID,
		Priority: string(it.Priority),
		Status:   string(it.Status),
		Reviewer: it.AssignedTo,
	})
	return it, nil
}

// Resume dispatches a reviewer decision by thread prefix. An unknown
// prefix is reported as a missing checkpoint.
func (s *ReviewService) Resume(ctx context.Context, threadID string, req ResumeRequest) (*ResumeResult, error) {
	switch {
	case strings.HasPrefix(threadID, database.PrefixCase):
		res, err := s.moderation.Resume(ctx, threadID, ReviewDecision{
			Decision:   moderation.Decision(req.Decision),
			Reasoning:  req.Reasoning,
			ReviewerID: req.ReviewerID,
		})
		if err != nil {
			return nil, err
		}
		return &ResumeResult{
			ThreadID:   res.ThreadID,
			Status:     res.Status,
			Decision:   string(res.Case.Decision),
			ReviewedBy: res.Case.ReviewedBy,
			Case:       res.Case,
		}, nil
	case strings.HasPrefix(threadID, database.PrefixAppeal):
		res, err := s.appeals.Resume(ctx, threadID, AppealReview{
			Decision:   appeal.Decision(req.Decision),
			Reasoning:  req.Reasoning,
			ReviewerID: req.ReviewerID,
		})
		if err != nil {
			return nil, err
		}
		return &ResumeResult{
			ThreadID:   res.ThreadID,
			Status:     res.Status,
			Decision:   string(res.Appeal.Decision),
			ReviewedBy: res.Appeal.ResolvedBy,
			Appeal:     res.Appeal,
		}, nil
	}
	return nil, fmt.Errorf("resume %s: %w", threadID, workflow.ErrNoCheckpoint)
}

// Inspect returns the checkpoint of a suspended thread.
func (s *ReviewService) Inspect(ctx context.Context, threadID string) (*ThreadView, error) {
	switch {
	case strings.HasPrefix(threadID, database.PrefixCase):
		snap, err := s.moderation.Inspect(ctx, threadID)
		if err != nil {
			return nil, err
		}
		return viewOf(snap.Checkpoint.ThreadID, snap.Checkpoint.Pipeline, string(snap.Checkpoint.Status),
			snap.Checkpoint.NextStep, snap.Checkpoint.Version, snap.State), nil
	case strings.HasPrefix(threadID, database.PrefixAppeal):
		snap, err := s.appeals.Inspect(ctx, threadID)
		if err != nil {
			return nil, err
		}
		return viewOf(snap.Checkpoint.ThreadID, snap.Checkpoint.Pipeline, string(snap.Checkpoint.Status),
			snap.Checkpoint.NextStep, snap.Checkpoint.Version, snap.State), nil
	}
	return nil, fmt.Errorf("inspect %s: %w", threadID, workflow.ErrNoCheckpoint)
}

func viewOf(id, pipeline, status, next string, version int64, state any) *ThreadView {
	return &ThreadView{
		ThreadID: id,
		Pipeline: pipeline,
		Status:   status,
		NextStep: next,
		Version:  version,
		State:    state,
	}
}

func threadOf(it *reviewqueue.Item) string {
	if it.AppealID != "" {
		return it.AppealID
	}
	return it.CaseID
}
