package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain"
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
	"github.com/Strob0t/ModGuard/internal/workflow"
)

// PipelineModeration names the moderation graph and its checkpoints.
const PipelineModeration = "moderation"

// Moderation steps.
const (
	StepIntake      = "intake"
	StepAssess      = "assess"
	StepDecide      = "decide"
	StepHumanReview = "human_review"
	StepAction      = "action"
	StepNotify      = "notify"
)

// User-facing notification texts.
const (
	msgApproved    = "Your content has been reviewed and approved."
	msgRejected    = "Your content violates our %s policy and has been removed. Action: %s. You may appeal this decision."
	msgUnderReview = "Your content is under review by our moderation team."
)

const historicalReasoningLen = 200

// ModerationState is the checkpointed state of one moderation thread.
// Fields are grouped by the step that sets them.
type ModerationState struct {
	// Set by Submit. Read by every step.
	CaseID      string                 `json:"case_id"`
	ContentType moderation.ContentType `json:"content_type"`
	Content     string                 `json:"content"`
	AuthorID    string                 `json:"author_id"`
	Metadata    map[string]any         `json:"metadata,omitempty"`

	// intake: normalized text used for classification and similarity.
	Text string `json:"text,omitempty"`

	// assess: reads Text. Related is nil when similarity lookup failed.
	Related    *RelatedContent     `json:"related,omitempty"`
	Assessment *scoring.Assessment `json:"assessment,omitempty"`
	RiskScore  float64             `json:"risk_score"`

	// decide: reads Assessment and RiskScore, creates the case.
	Decision    moderation.Decision `json:"decision,omitempty"`
	Category    string              `json:"category,omitempty"`
	Severity    moderation.Severity `json:"severity,omitempty"`
	Action      moderation.Action   `json:"action,omitempty"`
	NeedsReview bool                `json:"needs_review,omitempty"`

	// human_review: set by the resume patch. Decision and Action are
	// overwritten with the reviewer's outcome.
	ReviewedBy      string `json:"reviewed_by,omitempty"`
	ReviewReasoning string `json:"review_reasoning,omitempty"`

	// action: reads the decision fields and writes them through to the case.
	// notify: sets Notification.
	Notification string `json:"notification,omitempty"`
}

// ReviewDecision is the resume patch a reviewer submits for a moderation thread.
type ReviewDecision struct {
	Decision   moderation.Decision `json:"decision"`
	Reasoning  string              `json:"reasoning"`
	ReviewerID string              `json:"reviewer_id"`
}

// Validate rejects anything but approved or rejected before the checkpoint
// is read.
func (p ReviewDecision) Validate() error {
	if !p.Decision.Final() {
		return fmt.Errorf("decision %q: %w", p.Decision, domain.ErrInvalidDecision)
	}
	if p.ReviewerID == "" {
		return fmt.Errorf("reviewer_id is required: %w", domain.ErrValidation)
	}
	return nil
}

// ModerationResult is returned by Submit and Resume.
type ModerationResult struct {
	ThreadID string           `json:"thread_id"`
	Status   workflow.Outcome `json:"status"`
	NextStep string           `json:"next_step,omitempty"`
	Case     *moderation.Case `json:"case"`
}

// ModerationService runs submitted content through the moderation pipeline.
type ModerationService struct {
	store      database.Store
	classifier llm.Classifier
	similarity *SimilarityService
	scoring    *config.Scoring
	system     string
	routes     workflow.RouteTable[ModerationState]
	engine     *workflow.Engine[ModerationState, ReviewDecision]

	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	alerts   *NotificationService
	recorder DecisionRecorder
}

// NewModerationService builds the moderation graph over checkpoints.
func NewModerationService(
	store database.Store,
	checkpoints checkpointstore.Store,
	classifier llm.Classifier,
	sim *SimilarityService,
	scoringCfg *config.Scoring,
	prompts *config.Prompts,
	opts ...workflow.Option,
) (*ModerationService, error) {
	system, err := systemPrompt("moderation_system.tmpl", prompts.ModerationSystem)
	if err != nil {
		return nil, err
	}
	s := &ModerationService{
		store:      store,
		classifier: classifier,
		similarity: sim,
		scoring:    scoringCfg,
		system:     system,
		hub:        broadcast.Nop{},
		recorder:   nopRecorder{},
	}
	s.routes = moderationRoutes(scoringCfg.Thresholds)

	g := workflow.NewGraph[ModerationState, ReviewDecision](PipelineModeration).
		Step(StepIntake, s.intake).
		Step(StepAssess, s.assess).
		Step(StepDecide, s.decide).
		Suspend(StepHumanReview, s.mergeReview, ReviewDecision.Validate).
		Step(StepAction, s.action).
		Step(StepNotify, s.notify).
		Edge(StepIntake, StepAssess).
		Edge(StepAssess, StepDecide).
		Route(StepDecide, s.routes).
		Edge(StepHumanReview, StepAction).
		Edge(StepAction, StepNotify).
		Edge(StepNotify, workflow.End).
		OnFailure(s.discard)

	s.engine, err = workflow.NewEngine(g, checkpoints, opts...)
	if err != nil {
		return nil, fmt.Errorf("moderation pipeline: %w", err)
	}
	return s, nil
}

// SetQueue attaches the event bus for decision and escalation events.
func (s *ModerationService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetBroadcaster attaches the reviewer live feed.
func (s *ModerationService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetAlerts attaches moderator alerting.
func (s *ModerationService) SetAlerts(alerts *NotificationService) { s.alerts = alerts }

// SetRecorder attaches decision metrics.
func (s *ModerationService) SetRecorder(r DecisionRecorder) { s.recorder = r }

// moderationRoutes is the routing table evaluated after decide.
func moderationRoutes(t scoring.Thresholds) workflow.RouteTable[ModerationState] {
	return workflow.RouteTable[ModerationState]{
		{
			Name: "auto_reject",
			When: func(st *ModerationState) bool {
				return st.Assessment.Violation && st.Assessment.Confidence >= t.AutoReject
			},
			Next: StepAction,
		},
		{
			Name: "escalate",
			When: func(st *ModerationState) bool {
				return st.Assessment.Violation && st.Assessment.Confidence >= t.Escalate
			},
			Next: StepHumanReview,
		},
		{
			Name: "uncertain",
			When: func(st *ModerationState) bool {
				return st.Assessment.Confidence < t.CertaintyFloor
			},
			Next: StepHumanReview,
		},
		{
			Name: "approve",
			When: func(*ModerationState) bool { return true },
			Next: StepAction,
		},
	}
}

// Submit starts a moderation thread for sub. The case ID doubles as the
// thread ID.
func (s *ModerationService) Submit(ctx context.Context, sub moderation.Submission) (*ModerationResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	caseID := database.NewID(database.PrefixCase)
	res, err := s.engine.Start(ctx, caseID, ModerationState{
		CaseID:      caseID,
		ContentType: sub.ContentType,
		Content:     sub.Content,
		AuthorID:    sub.AuthorID,
		Metadata:    sub.Metadata,
	})
	if err != nil {
		s.alertFailure(ctx, caseID, err)
		return nil, err
	}
	return s.finish(ctx, res)
}

// Resume applies a reviewer decision to a suspended moderation thread.
func (s *ModerationService) Resume(ctx context.Context, threadID string, p ReviewDecision) (*ModerationResult, error) {
	res, err := s.engine.Resume(ctx, threadID, p)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, res)
}

// Inspect returns the live checkpoint of a suspended moderation thread.
func (s *ModerationService) Inspect(ctx context.Context, threadID string) (*workflow.Snapshot[ModerationState], error) {
	return s.engine.Inspect(ctx, threadID)
}

// GetCase returns a case by ID.
func (s *ModerationService) GetCase(ctx context.Context, id string) (*moderation.Case, error) {
	return s.store.GetCase(ctx, id)
}

// ListCases returns cases matching the filter, newest first.
func (s *ModerationService) ListCases(ctx context.Context, f moderation.ListFilter) ([]moderation.Case, error) {
	return s.store.ListCases(ctx, f)
}

// CaseAudit returns the audit trail of a case, oldest first.
func (s *ModerationService) CaseAudit(ctx context.Context, caseID string) ([]audit.Entry, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, audit.Filter{CaseID: caseID, Limit: database.MaxLimit})
}

// HandleSubmission consumes moderation.submitted messages. Invalid
// submissions are dropped since redelivery cannot fix them.
func (s *ModerationService) HandleSubmission(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.SubmissionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.WarnContext(ctx, "dropping malformed submission", "error", err)
		return nil
	}
	res, err := s.Submit(ctx, moderation.Submission{
		ContentType: moderation.ContentType(p.ContentType),
		Content:     p.Content,
		AuthorID:    p.AuthorID,
		Metadata:    p.Metadata,
	})
	if errors.Is(err, domain.ErrValidation) {
		slog.WarnContext(ctx, "dropping invalid submission", "author_id", p.AuthorID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "submission processed",
		"case_id", res.ThreadID, "status", res.Status, "decision", res.Case.Decision)
	return nil
}

func (s *ModerationService) finish(ctx context.Context, res workflow.Result[ModerationState]) (*ModerationResult, error) {
	c, err := s.store.GetCase(ctx, res.State.CaseID)
	if err != nil {
		return nil, fmt.Errorf("load case %s: %w", res.State.CaseID, err)
	}
	if res.Outcome == workflow.OutcomeSuspended {
		s.announceEscalation(ctx, &res.State)
	}
	return &ModerationResult{
		ThreadID: res.ThreadID,
		Status:   res.Outcome,
		NextStep: res.NextStep,
		Case:     c,
	}, nil
}

func (s *ModerationService) announceEscalation(ctx context.Context, st *ModerationState) {
	confidence := 0.0
	if st.Assessment != nil {
		confidence = st.Assessment.Confidence
	}
	publish(ctx, s.queue, messagequeue.SubjectEscalation, messagequeue.EscalationPayload{
		ThreadID:   st.CaseID,
		CaseID:     st.CaseID,
		Priority:   string(reviewqueue.PriorityHigh),
		Confidence: confidence,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventQueueChanged, broadcast.QueueChangedEvent{
		ThreadID: st.CaseID,
		CaseID:   st.CaseID,
		Priority: string(reviewqueue.PriorityHigh),
		Status:   string(reviewqueue.StatusPending),
	})
	s.alerts.Notify(ctx, notifier.Notification{
		Title:   "Case needs review",
		Message: fmt.Sprintf("%s from %s was escalated for human review.", st.ContentType, st.AuthorID),
		Level:   "warning",
		Source:  SourceCaseEscalated,
		CaseID:  st.CaseID,
		Fields: map[string]string{
			"category":   orDefault(st.Category, "none"),
			"confidence": fmt.Sprintf("%.2f", confidence),
			"risk_score": fmt.Sprintf("%.2f", st.RiskScore),
		},
	})
}

func (s *ModerationService) alertFailure(ctx context.Context, caseID string, err error) {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrThreadConflict) {
		return
	}
	s.alerts.Notify(ctx, notifier.Notification{
		Title:   "Moderation run failed",
		Message: err.Error(),
		Level:   "error",
		Source:  SourceRunFailed,
		CaseID:  caseID,
	})
}

// --- steps ---

func (s *ModerationService) intake(ctx context.Context, st *ModerationState) error {
	st.Text = normalizeContent(st.ContentType, st.Content)
	if st.Text == "" {
		return fmt.Errorf("content has no readable text: %w", domain.ErrValidation)
	}
	return s.store.AppendAudit(ctx, &audit.Entry{
		CaseID: st.CaseID,
		Action: audit.ActionIntake,
		Actor:  audit.ActorSystem,
		Details: map[string]any{
			"content_type": st.ContentType,
			"author_id":    st.AuthorID,
			"length":       len(st.Text),
		},
	})
}

func (s *ModerationService) assess(ctx context.Context, st *ModerationState) error {
	related, err := s.similarity.Related(ctx, st.Text)
	if err != nil {
		slog.WarnContext(ctx, "similarity context unavailable", "case_id", st.CaseID, "error", err)
	}
	st.Related = related

	prompt, err := buildModerationPrompt(st, s.scoring.Actions)
	if err != nil {
		return err
	}
	raw, err := s.classifier.Classify(ctx, s.system, prompt)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	a := scoring.ParseAssessment(raw)
	if len(a.Issues) > 0 {
		slog.WarnContext(ctx, "classifier response degraded",
			"case_id", st.CaseID,
			"issues", a.Issues,
			"response", truncate(raw, 200),
		)
	}
	st.Assessment = &a
	st.RiskScore = s.scoring.SeverityWeights.RiskScore(a.Confidence, a.Severity)
	return nil
}

func (s *ModerationService) decide(ctx context.Context, st *ModerationState) error {
	a := st.Assessment
	rule, _ := s.routes.Route(st)

	switch {
	case rule.Next == StepHumanReview:
		st.NeedsReview = true
		st.Decision = moderation.DecisionEscalated
		st.Action = moderation.ActionFlagForReview
	case scoring.Decide(a.Confidence, a.Violation, s.scoring.Thresholds) == moderation.DecisionRejected:
		st.Decision = moderation.DecisionRejected
		st.Action = s.scoring.Actions.Resolve(a.Category, a.Severity)
	default:
		st.Decision = moderation.DecisionApproved
		st.Action = moderation.ActionNone
	}
	if a.Violation && st.Decision != moderation.DecisionApproved {
		st.Category = a.Category
		st.Severity = a.Severity
	}

	c := &moderation.Case{
		ID:          st.CaseID,
		ContentType: st.ContentType,
		Content:     st.Content,
		AuthorID:    st.AuthorID,
		RiskScore:   st.RiskScore,
		Confidence:  a.Confidence,
		Category:    st.Category,
		Severity:    st.Severity,
		Decision:    st.Decision,
		Action:      st.Action,
		Reasoning:   a.Reasoning,
		Metadata:    st.Metadata,
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	slog.InfoContext(ctx, "case decided",
		"case_id", st.CaseID,
		"route", rule.Name,
		"decision", st.Decision,
		"confidence", a.Confidence,
		"risk_score", st.RiskScore,
	)

	if a.Violation && a.Confidence >= s.scoring.FlagMinConfidence {
		err := s.similarity.AddFlagged(ctx, st.CaseID, st.Text, map[string]any{
			metaCaseID:      st.CaseID,
			metaCategory:    a.Category,
			metaSeverity:    string(a.Severity),
			metaContentType: string(st.ContentType),
		})
		if err != nil {
			slog.WarnContext(ctx, "index flagged content failed", "case_id", st.CaseID, "error", err)
		}
	}
	return nil
}

// mergeReview applies the reviewer's decision as the output of human_review.
func (s *ModerationService) mergeReview(st *ModerationState, p ReviewDecision) error {
	st.ReviewedBy = p.ReviewerID
	st.ReviewReasoning = p.Reasoning
	st.Decision = p.Decision

	switch {
	case p.Decision == moderation.DecisionApproved:
		st.Action = moderation.ActionNone
		st.Category = ""
		st.Severity = moderation.SeverityNone
	case st.Category != "":
		st.Action = s.scoring.Actions.Resolve(st.Category, st.Severity)
	default:
		st.Action = moderation.ActionPermanentBan
	}
	return nil
}

// discard removes every row and index record a failed run wrote for the case.
func (s *ModerationService) discard(ctx context.Context, caseID string, _ *ModerationState) error {
	return errors.Join(
		s.store.DiscardCase(ctx, caseID),
		s.similarity.Forget(ctx, caseID),
	)
}

func (s *ModerationService) action(ctx context.Context, st *ModerationState) error {
	actor := audit.ActorSystem
	reasoning := ""
	if st.Assessment != nil {
		reasoning = st.Assessment.Reasoning
	}

	if st.ReviewedBy != "" {
		actor = st.ReviewedBy
		if err := s.store.AppendAudit(ctx, &audit.Entry{
			CaseID:  st.CaseID,
			Action:  audit.ActionReviewerDecision,
			Actor:   actor,
			Details: map[string]any{"decision": st.Decision, "reasoning": st.ReviewReasoning},
		}); err != nil {
			return err
		}
		reasoning = fmt.Sprintf("MODERATOR OVERRIDE: %s\n\nOriginal AI reasoning: %s", st.ReviewReasoning, reasoning)
		if _, err := s.store.UpdateCaseDecision(ctx, st.CaseID, moderation.DecisionUpdate{
			Decision:   st.Decision,
			Category:   st.Category,
			Severity:   st.Severity,
			Action:     st.Action,
			Reasoning:  reasoning,
			ReviewedBy: st.ReviewedBy,
		}); err != nil {
			return fmt.Errorf("apply review: %w", err)
		}
	}

	if st.Action != moderation.ActionNone && st.Action != moderation.ActionFlagForReview {
		if err := s.store.AppendAudit(ctx, &audit.Entry{
			CaseID: st.CaseID,
			Action: audit.ActionModerationPrefix + string(st.Action),
			Actor:  actor,
			Details: map[string]any{
				"author_id": st.AuthorID,
				"category":  st.Category,
				"severity":  st.Severity,
			},
		}); err != nil {
			return err
		}
	}

	err := s.similarity.AddHistorical(ctx, st.CaseID, historicalSummary(st, reasoning), map[string]any{
		metaCaseID:   st.CaseID,
		metaDecision: string(st.Decision),
		metaCategory: st.Category,
		metaSeverity: string(st.Severity),
		metaAuthorID: st.AuthorID,
	})
	if err != nil {
		slog.WarnContext(ctx, "index historical case failed", "case_id", st.CaseID, "error", err)
	}

	s.recorder.RecordDecision(ctx, string(st.Decision), st.RiskScore)
	return nil
}

func historicalSummary(st *ModerationState, reasoning string) string {
	if st.Category != "" {
		return fmt.Sprintf("%s violation (severity: %s). Decision: %s. %s",
			st.Category, st.Severity, st.Decision, truncate(reasoning, historicalReasoningLen))
	}
	return fmt.Sprintf("Clean content - %s. %s", st.Decision, truncate(reasoning, historicalReasoningLen))
}

func notificationText(st *ModerationState) string {
	switch st.Decision {
	case moderation.DecisionApproved:
		return msgApproved
	case moderation.DecisionRejected:
		return fmt.Sprintf(msgRejected, orDefault(st.Category, "community"), st.Action)
	default:
		return msgUnderReview
	}
}

func (s *ModerationService) notify(ctx context.Context, st *ModerationState) error {
	st.Notification = notificationText(st)
	if err := s.store.AppendAudit(ctx, &audit.Entry{
		CaseID: st.CaseID,
		Action: audit.ActionUserNotification,
		Actor:  audit.ActorSystem,
		Details: map[string]any{
			"user_id":  st.AuthorID,
			"decision": st.Decision,
			"message":  st.Notification,
		},
	}); err != nil {
		return err
	}

	publish(ctx, s.queue, messagequeue.SubjectNotification, messagequeue.NotificationPayload{
		UserID:   st.AuthorID,
		CaseID:   st.CaseID,
		Decision: string(st.Decision),
		Message:  st.Notification,
	})
	publish(ctx, s.queue, messagequeue.SubjectDecision, messagequeue.DecisionPayload{
		CaseID:     st.CaseID,
		AuthorID:   st.AuthorID,
		Decision:   string(st.Decision),
		Category:   st.Category,
		Severity:   string(st.Severity),
		Action:     string(st.Action),
		RiskScore:  st.RiskScore,
		ReviewedBy: st.ReviewedBy,
	})
	s.hub.BroadcastEvent(ctx, broadcast.EventCaseDecided, broadcast.CaseDecidedEvent{
		CaseID:     st.CaseID,
		Decision:   string(st.Decision),
		Action:     string(st.Action),
		ReviewedBy: st.ReviewedBy,
	})
	return nil
}
