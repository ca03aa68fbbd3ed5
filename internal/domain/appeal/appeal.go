// Package appeal defines the Appeal domain entity: a user's request to
// reconsider a moderation decision.
package appeal

import (
	"fmt"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
)

// Decision is the outcome of an appeal.
type Decision string

const (
	DecisionPending    Decision = "pending"
	DecisionUpheld     Decision = "upheld"
	DecisionOverturned Decision = "overturned"
	DecisionEscalated  Decision = "escalated"
)

var validDecisions = map[Decision]bool{
	DecisionPending:    true,
	DecisionUpheld:     true,
	DecisionOverturned: true,
	DecisionEscalated:  true,
}

// Valid reports whether d is one of the declared appeal decisions.
func (d Decision) Valid() bool { return validDecisions[d] }

// Final reports whether d closes the appeal.
func (d Decision) Final() bool {
	return d == DecisionUpheld || d == DecisionOverturned
}

// Scores holds the four appeal sub-scores, each in [0,1].
type Scores struct {
	NewEvidence float64 `json:"new_evidence"`
	Policy      float64 `json:"policy"`
	Explanation float64 `json:"explanation"`
	History     float64 `json:"history"`
}

// Appeal is a request to reconsider a Case.
type Appeal struct {
	ID              string     `json:"id"`
	CaseID          string     `json:"case_id"`
	UserExplanation string     `json:"user_explanation"`
	NewEvidence     string     `json:"new_evidence,omitempty"`
	Scores          Scores     `json:"scores"`
	Composite       float64    `json:"composite"`
	Decision        Decision   `json:"decision"`
	Reasoning       string     `json:"reasoning,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Request is the intake payload for an appeal run.
type Request struct {
	// ID, when set, is used as the appeal ID instead of a generated one.
	ID              string `json:"-"`
	CaseID          string `json:"case_id"`
	UserExplanation string `json:"user_explanation"`
	NewEvidence     string `json:"new_evidence,omitempty"`
}

// Validate checks that a Request has all required fields.
func (r *Request) Validate() error {
	if r.CaseID == "" {
		return fmt.Errorf("case_id is required: %w", domain.ErrValidation)
	}
	if r.UserExplanation == "" {
		return fmt.Errorf("user_explanation is required: %w", domain.ErrValidation)
	}
	return nil
}

// Resolution carries the fields written together when an appeal is resolved.
type Resolution struct {
	Decision   Decision `json:"decision"`
	Scores     Scores   `json:"scores"`
	Composite  float64  `json:"composite"`
	Reasoning  string   `json:"reasoning"`
	ResolvedBy string   `json:"resolved_by"`
}

// Validate checks the resolution carries a final decision and a resolver.
// Escalation is a routing outcome, not a resolution.
func (r *Resolution) Validate() error {
	if !r.Decision.Final() {
		return fmt.Errorf("invalid appeal resolution %q: %w", r.Decision, domain.ErrValidation)
	}
	if r.ResolvedBy == "" {
		return fmt.Errorf("resolved_by is required: %w", domain.ErrValidation)
	}
	return nil
}
