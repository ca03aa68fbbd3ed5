// Package audit defines the append-only audit log entry.
package audit

import "time"

// Action tags written by the pipelines.
const (
	ActionIntake           = "intake"
	ActionCaseCreated      = "case_created"
	ActionDecisionUpdated  = "decision_updated"
	ActionUserNotification = "user_notification"
	ActionAppealFiled      = "appeal_filed"
	ActionQueueAssigned    = "queue_assigned"
	ActionReviewerDecision = "reviewer_decision"

	// ActionModerationPrefix is followed by the enforcement action name.
	ActionModerationPrefix = "moderation_action_"
	// ActionAppealPrefix is followed by the appeal decision.
	ActionAppealPrefix = "appeal_"
)

// ActorSystem is the actor recorded for automated writes.
const ActorSystem = "system"

// Entry is one immutable audit record.
type Entry struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id,omitempty"`
	AppealID  string         `json:"appeal_id,omitempty"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Filter narrows an audit listing. Zero values match everything.
// An Action ending in "*" matches every action with that prefix.
// Entries are listed oldest first.
type Filter struct {
	CaseID   string
	AppealID string
	Action   string
	Actor    string
	Since    time.Time
	Limit    int
}
