// Package moderation defines the Case domain entity: one submitted piece of
// content and its moderation outcome.
package moderation

import (
	"fmt"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
)

// Decision is the moderation outcome of a case.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionEscalated Decision = "escalated"
	DecisionPending   Decision = "pending"
)

// Severity grades a violation. The empty value means no violation.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the enforcement applied to the author of rejected content.
type Action string

const (
	ActionNone                  Action = ""
	ActionWarn                  Action = "warn"
	ActionTempBan24h            Action = "temp_ban_24h"
	ActionTempBan7d             Action = "temp_ban_7d"
	ActionPermanentBan          Action = "permanent_ban"
	ActionPermanentBanAndReport Action = "permanent_ban_and_report"
	ActionFlagForReview         Action = "flag_for_review"
)

// ContentType identifies what kind of content was submitted.
type ContentType string

const (
	ContentProfile ContentType = "profile"
	ContentMessage ContentType = "message"
	ContentPhoto   ContentType = "photo"
	ContentBio     ContentType = "bio"
)

var validDecisions = map[Decision]bool{
	DecisionApproved:  true,
	DecisionRejected:  true,
	DecisionEscalated: true,
	DecisionPending:   true,
}

var validSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// ParseSeverity returns the severity named by s, or false if s is not a known level.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	return sev, validSeverities[sev]
}

// Valid reports whether d is one of the declared decision values.
func (d Decision) Valid() bool { return validDecisions[d] }

// Final reports whether d closes a case; escalated and pending do not.
func (d Decision) Final() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Case is one submitted piece of content and its moderation outcome.
// Category and Severity are empty when no violation was found.
type Case struct {
	ID          string         `json:"id"`
	ContentType ContentType    `json:"content_type"`
	Content     string         `json:"content"`
	AuthorID    string         `json:"author_id"`
	RiskScore   float64        `json:"risk_score"`
	Confidence  float64        `json:"confidence"`
	Category    string         `json:"category,omitempty"`
	Severity    Severity       `json:"severity,omitempty"`
	Decision    Decision       `json:"decision"`
	Action      Action         `json:"action,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate checks field ranges and the cross-field invariants of a case.
func (c *Case) Validate() error {
	if c.ContentType == "" {
		return fmt.Errorf("content_type is required: %w", domain.ErrValidation)
	}
	if c.AuthorID == "" {
		return fmt.Errorf("author_id is required: %w", domain.ErrValidation)
	}
	if !c.Decision.Valid() {
		return fmt.Errorf("invalid decision %q: %w", c.Decision, domain.ErrValidation)
	}
	if c.RiskScore < 0 || c.RiskScore > 1 {
		return fmt.Errorf("risk_score %v out of range: %w", c.RiskScore, domain.ErrValidation)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range: %w", c.Confidence, domain.ErrValidation)
	}
	if c.Severity != SeverityNone && !validSeverities[c.Severity] {
		return fmt.Errorf("invalid severity %q: %w", c.Severity, domain.ErrValidation)
	}
	if c.Decision == DecisionApproved && c.Category != "" {
		return fmt.Errorf("approved case must not carry a violation category: %w", domain.ErrValidation)
	}
	if c.Category != "" && c.Severity == SeverityNone {
		return fmt.Errorf("violation category %q requires a severity: %w", c.Category, domain.ErrValidation)
	}
	return nil
}

// Submission is the intake payload for a moderation run.
type Submission struct {
	ContentType ContentType    `json:"content_type"`
	Content     string         `json:"content"`
	AuthorID    string         `json:"author_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks that a Submission has all required fields.
func (s *Submission) Validate() error {
	if s.ContentType == "" {
		return fmt.Errorf("content_type is required: %w", domain.ErrValidation)
	}
	if s.Content == "" {
		return fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	if s.AuthorID == "" {
		return fmt.Errorf("author_id is required: %w", domain.ErrValidation)
	}
	return nil
}

// DecisionUpdate carries the fields written by a decision update.
type DecisionUpdate struct {
	Decision   Decision `json:"decision"`
	Category   string   `json:"category,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Action     Action   `json:"action,omitempty"`
	Reasoning  string   `json:"reasoning"`
	ReviewedBy string   `json:"reviewed_by,omitempty"`
}

// ListFilter narrows a case listing. Zero values match everything.
type ListFilter struct {
	Decision Decision
	Category string
	AuthorID string
	Limit    int
}
