package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/domain/scoring"
	"github.com/Strob0t/ModGuard/internal/port/broadcast"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
	"github.com/Strob0t/ModGuard/internal/port/database"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/port/messagequeue"
	"github.com/Strob0t/ModGuard/internal/port/notifier"
	"github.com/Strob0t/ModGuard/internal/similarity"
	"github.com/Strob0t/ModGuard/internal/workflow"
)

// PipelineAppeal names the appeal graph and its checkpoints.
const PipelineAppeal = "appeal"

// Appeal steps. The suspend step shares its name with the moderation graph.
const (
	StepAppealIntake    = "intake"
	StepRetrieveContext = "retrieve_context"
	StepEvaluate        = "evaluate"
	StepAppealDecide    = "decide"
	StepResolve         = "resolve"
	StepAppealNotify    = "notify"
)

// ActorAgent resolves appeals that were decided without a reviewer.
const ActorAgent = "agent"

const (
	appealHistoryLimit = 5
	appealSimilarK     = 3
	msgAppealOverturn  = "Your appeal was accepted and the original decision has been reversed."
	msgAppealUpheld    = "Your appeal was reviewed and the original decision stands."
)

// AppealState is the checkpointed state of one appeal thread.
type AppealState struct {
	// Set by File.
	AppealID        string `json:"appeal_id"`
	CaseID          string `json:"case_id"`
	UserExplanation string `json:"user_explanation"`
	NewEvidence     string `json:"new_evidence,omitempty"`

	// retrieve_context: reads CaseID.
	Original        *moderation.Case   `json:"original,omitempty"`
	AuthorCases     int                `json:"author_cases"`
	PriorRejections int                `json:"prior_rejections"`
	Similar         []similarity.Match `json:"similar,omitempty"`

	// evaluate: reads everything above.
	Evaluation *scoring.AppealEvaluation `json:"evaluation,omitempty"`
	Composite  float64                   `json:"composite"`

	// decide: reads Composite. human_review overwrites Decision.
	Decision        appeal.Decision `json:"decision,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ReviewReasoning string          `json:"review_reasoning,omitempty"`

	// notify
	Notification string `json:"notification,omitempty"`
}

// AppealReview is the resume patch for an escalated appeal.
type AppealReview struct {
	Decision   appeal.Decision `json:"decision"`
	Reasoning  string          `json:"reasoning"`
	ReviewerID string          `json:"reviewer_id"`
}

// Validate accepts only decisions that close the appeal.
func (p AppealReview) Validate() error {
	if !p.Decision.Final() {
		return fmt.Errorf("appeal decision %q: %w", p.Decision, domain.ErrInvalidDecision)
	}
	if p.ReviewerID == "" {
		return fmt.Errorf("reviewer_id is required: %w", domain.ErrValidation)
	}
	return nil
}

// AppealResult is returned by File and Resume.
type AppealResult struct {
	ThreadID string           `json:"thread_id"`
	Status   workflow.Outcome `json:"status"`
	NextStep string           `json:"next_step,omitempty"`
	Appeal   *appeal.Appeal   `json:"appeal"`
}

// AppealService runs appeals through the appeal pipeline.
type AppealService struct {
	store      database.Store
	classifier llm.Classifier
	similarity *SimilarityService
	scoring    *config.Scoring
	system     string
	engine     *workflow.Engine[AppealState, AppealReview]

	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	alerts   *NotificationService
	recorder DecisionRecorder
}

// NewAppealService builds the appeal graph over checkpoints.
func NewAppealService(
	store database.Store,
	checkpoints checkpointstore.Store,
	classifier llm.Classifier,
	sim *SimilarityService,
	scoringCfg *config.Scoring,
	prompts *config.Prompts,
	opts ...workflow.Option,
) (*AppealService, error) {
	system, err := systemPrompt("appeal_system.tmpl", prompts.AppealSystem)
	if err != nil {
		return nil, err
	}
	s := &AppealService{
		store:      store,
		classifier: classifier,
		similarity: sim,
		scoring:    scoringCfg,
		system:     system,
		hub:        broadcast.Nop{},
		recorder:   nopRecorder{},
	}

	g := workflow.NewGraph[AppealState, AppealReview](PipelineAppeal).
		Step(StepAppealIntake, s.intake).
		Step(StepRetrieveContext, s.retrieveContext).
		Step(StepEvaluate, s.evaluate).
		Step(StepAppealDecide, s.decide).
		Suspend(StepHumanReview, s.mergeReview, AppealReview.Validate).
		Step(StepResolve, s.resolve).
		Step(StepAppealNotify, s.notify).
		Edge(StepAppealIntake, StepRetrieveContext).
		Edge(StepRetrieveContext, StepEvaluate).
		Edge(StepEvaluate, StepAppealDecide).
		Route(StepAppealDecide, workflow.RouteTable[AppealState]{
			{
				Name: "escalate",
				When: func(st *AppealState) bool { return st.Decision == appeal.DecisionEscalated },
				Next: StepHumanReview,
			},
			{
				Name: "resolve",
				When: func(*AppealState) bool { return true },
				Next: StepResolve,
			},
		}).
		Edge(StepHumanReview, StepResolve).
		Edge(StepResolve, StepAppealNotify).
		Edge(StepAppealNotify, workflow.End).
		OnFailure(s.discard)

	s.engine, err = workflow.NewEngine(g, checkpoints, opts...)
	if err != nil {
		return nil, fmt.Errorf("appeal pipeline: %w", err)
	}
	return s, nil
}

// SetQueue attaches the event bus.
func (s *AppealService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetBroadcaster attaches the reviewer live feed.
func (s *AppealService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetAlerts attaches moderator alerting.
func (s *AppealService) SetAlerts(alerts *NotificationService) { s.alerts = alerts }

// SetRecorder attaches appeal metrics.
func (s *AppealService) SetRecorder(r DecisionRecorder) { s.recorder = r }

// File starts an appeal thread. The appeal ID doubles as the thread ID.
func (s *AppealService) File(ctx context.Context, req appeal.Request) (*AppealResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}
	id := database.NewID(database.PrefixAppeal)
	res, err := s.engine.Start(ctx, id, AppealState{
		AppealID:        id,
		CaseID:          req.CaseID,
		UserExplanation: req.UserExplanation,
		NewEvidence:     req.NewEvidence,
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, res)
}

// Resume applies a reviewer decision to an escalated appeal.
func (s *AppealService) Resume(ctx context.Context, threadID string, p AppealReview) (*AppealResult, error) {
	res, err := s.engine.Resume(ctx, threadID, p)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, res)
}

// Inspect returns the live checkpoint of an escalated appeal.
func (s *AppealService) Inspect(ctx context.Context, threadID string) (*workflow.Snapshot[AppealState], error) {
	return s.engine.Inspect(ctx, threadID)
}

// Get returns an appeal by ID.
func (s *AppealService) Get(ctx context.Context, id string) (*appeal.Appeal, error) {
	return s.store.GetAppeal(ctx, id)
}

func (s *AppealService) finish(ctx context.Context, res workflow.Result[AppealState]) (*AppealResult, error) {
	a, err := s.store.GetAppeal(ctx, res.State.AppealID)
	if err != nil {
		return nil, fmt.Errorf("load appeal %s: %w", res.State.AppealID, err)
	}
	if res.Outcome == workflow.OutcomeSuspended {
		s.announceEscalation(ctx, &res.State)
	}
	return &AppealResult{
		ThreadID: res.ThreadID,
		Status:   res.Outcome,
		NextStep: res.NextStep,
		Appeal:   a,
	}, nil
}

func (s *AppealService) announceEscalation(ctx context.Context, st *AppealState) {
	publish(ctx, s.queue, messagequeue.SubjectEscalation, messagequeue.EscalationPayload{
		ThreadID:   st.AppealID,
		AppealID:   st.AppealID,
		CaseID:     st.CaseID,
		Priority:   string(reviewqueue.PriorityMedium),
		Confidence: st.Composite,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventQueueChanged, broadcast.QueueChangedEvent{
		ThreadID: st.AppealID,
		AppealID: st.AppealID,
		CaseID:   st.CaseID,
		Priority: string(reviewqueue.PriorityMedium),
		Status:   string(reviewqueue.StatusPending),
	})
	s.alerts.Notify(ctx, notifier.Notification{
		Title:    "Appeal needs review",
		Message:  fmt.Sprintf("Appeal on %s scored %.2f and was escalated.", st.CaseID, st.Composite),
		Level:    "warning",
		Source:   SourceAppealEscalated,
		CaseID:   st.CaseID,
		AppealID: st.AppealID,
	})
}

// --- steps ---

func (s *AppealService) intake(ctx context.Context, st *AppealState) error {
	_, err := s.store.CreateAppeal(ctx, appeal.Request{
		ID:              st.AppealID,
		CaseID:          st.CaseID,
		UserExplanation: st.UserExplanation,
		NewEvidence:     st.NewEvidence,
	})
	if err != nil {
		return fmt.Errorf("create appeal: %w", err)
	}
	return nil
}

func (s *AppealService) retrieveContext(ctx context.Context, st *AppealState) error {
	c, err := s.store.GetCase(ctx, st.CaseID)
	if err != nil {
		return fmt.Errorf("original case: %w", err)
	}
	st.Original = c

	history, err := s.store.ListCasesByAuthor(ctx, c.AuthorID, database.MaxLimit)
	if err != nil {
		return fmt.Errorf("author history: %w", err)
	}
	st.AuthorCases = len(history)
	for _, h := range history[:min(len(history), appealHistoryLimit)] {
		if h.Decision == moderation.DecisionRejected {
			st.PriorRejections++
		}
	}

	similar, err := s.similarity.SimilarCases(ctx, c.Content, c.Category, appealSimilarK)
	if err != nil {
		slog.WarnContext(ctx, "similar cases unavailable", "appeal_id", st.AppealID, "error", err)
	}
	// The case itself is indexed as a historical record.
	for _, m := range similar {
		if m.ID != c.ID {
			st.Similar = append(st.Similar, m)
		}
	}
	return nil
}

func (s *AppealService) evaluate(ctx context.Context, st *AppealState) error {
	prompt, err := buildAppealPrompt(st)
	if err != nil {
		return err
	}
	raw, err := s.classifier.Classify(ctx, s.system, prompt)
	if err != nil {
		return fmt.Errorf("evaluate appeal: %w", err)
	}
	ev := scoring.ParseAppealEvaluation(raw)
	if len(ev.Issues) > 0 {
		slog.WarnContext(ctx, "appeal evaluation degraded",
			"appeal_id", st.AppealID,
			"issues", ev.Issues,
			"response", truncate(raw, 200),
		)
	}
	st.Evaluation = &ev
	st.Composite = scoring.AppealComposite(ev.Scores, s.scoring.AppealWeights)
	return nil
}

func (s *AppealService) decide(ctx context.Context, st *AppealState) error {
	st.Decision = scoring.AppealDecide(st.Composite, s.scoring.AppealThresholds)
	slog.InfoContext(ctx, "appeal decided",
		"appeal_id", st.AppealID,
		"case_id", st.CaseID,
		"composite", st.Composite,
		"decision", st.Decision,
	)
	return nil
}

func (s *AppealService) mergeReview(st *AppealState, p AppealReview) error {
	st.Decision = p.Decision
	st.ResolvedBy = p.ReviewerID
	st.ReviewReasoning = p.Reasoning
	return nil
}

func (s *AppealService) resolve(ctx context.Context, st *AppealState) error {
	resolvedBy := st.ResolvedBy
	reasoning := ""
	var scores appeal.Scores
	if st.Evaluation != nil {
		reasoning = st.Evaluation.Reasoning
		scores = st.Evaluation.Scores
	}
	if resolvedBy == "" {
		resolvedBy = ActorAgent
	} else {
		if err := s.store.AppendAudit(ctx, &audit.Entry{
			CaseID:   st.CaseID,
			AppealID: st.AppealID,
			Action:   audit.ActionReviewerDecision,
			Actor:    resolvedBy,
			Details:  map[string]any{"decision": st.Decision, "reasoning": st.ReviewReasoning},
		}); err != nil {
			return err
		}
		reasoning = fmt.Sprintf("MODERATOR OVERRIDE: %s\n\nOriginal AI reasoning: %s", st.ReviewReasoning, reasoning)
	}

	if _, err := s.store.ResolveAppeal(ctx, st.AppealID, appeal.Resolution{
		Decision:   st.Decision,
		Scores:     scores,
		Composite:  st.Composite,
		Reasoning:  reasoning,
		ResolvedBy: resolvedBy,
	}); err != nil {
		return fmt.Errorf("resolve appeal: %w", err)
	}
	st.ResolvedBy = resolvedBy
	s.recorder.RecordAppeal(ctx, string(st.Decision))
	return nil
}

// discard removes the appeal a failed run filed. When the run failed after
// overturning, the case gets its original decision back first.
func (s *AppealService) discard(ctx context.Context, appealID string, st *AppealState) error {
	var errs []error
	if st != nil && st.Original != nil {
		a, err := s.store.GetAppeal(ctx, appealID)
		if err == nil && a.Decision == appeal.DecisionOverturned {
			o := st.Original
			_, err = s.store.UpdateCaseDecision(ctx, o.ID, moderation.DecisionUpdate{
				Decision:   o.Decision,
				Category:   o.Category,
				Severity:   o.Severity,
				Action:     o.Action,
				Reasoning:  o.Reasoning,
				ReviewedBy: o.ReviewedBy,
			})
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("restore case %s: %w", st.CaseID, err))
		}
	}
	errs = append(errs, s.store.DiscardAppeal(ctx, appealID))
	return errors.Join(errs...)
}

func (s *AppealService) notify(ctx context.Context, st *AppealState) error {
	st.Notification = msgAppealUpheld
	if st.Decision == appeal.DecisionOverturned {
		st.Notification = msgAppealOverturn
	}
	userID := ""
	if st.Original != nil {
		userID = st.Original.AuthorID
	}
	if err := s.store.AppendAudit(ctx, &audit.Entry{
		CaseID:   st.CaseID,
		AppealID: st.AppealID,
		Action:   audit.ActionUserNotification,
		Actor:    audit.ActorSystem,
		Details:  map[string]any{"user_id": userID, "decision": st.Decision, "message": st.Notification},
	}); err != nil {
		return err
	}

	publish(ctx, s.queue, messagequeue.SubjectAppealResolved, messagequeue.AppealResolvedPayload{
		AppealID:   st.AppealID,
		CaseID:     st.CaseID,
		Decision:   string(st.Decision),
		Composite:  st.Composite,
		ResolvedBy: st.ResolvedBy,
	})
	publish(ctx, s.queue, messagequeue.SubjectNotification, messagequeue.NotificationPayload{
		UserID:   userID,
		CaseID:   st.CaseID,
		AppealID: st.AppealID,
		Decision: string(st.Decision),
		Message:  st.Notification,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventAppealResolved, broadcast.AppealResolvedEvent{
		AppealID:   st.AppealID,
		CaseID:     st.CaseID,
		Decision:   string(st.Decision),
		Composite:  st.Composite,
		ResolvedBy: st.ResolvedBy,
	})
	return nil
}
