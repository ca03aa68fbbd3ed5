package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/appeal"
)

// AppealWeights are the coefficients of the appeal composite score.
type AppealWeights struct {
	NewEvidence float64 `yaml:"new_evidence" json:"new_evidence"`
	Policy      float64 `yaml:"policy" json:"policy"`
	Explanation float64 `yaml:"explanation" json:"explanation"`
	History     float64 `yaml:"history" json:"history"`
}

// DefaultAppealWeights weights new evidence highest and history lowest.
func DefaultAppealWeights() AppealWeights {
	return AppealWeights{NewEvidence: 0.40, Policy: 0.30, Explanation: 0.20, History: 0.10}
}

// Validate checks every weight is non-negative and the weights sum to 1.
func (w AppealWeights) Validate() error {
	for _, v := range []float64{w.NewEvidence, w.Policy, w.Explanation, w.History} {
		if v < 0 {
			return fmt.Errorf("appeal weights must be non-negative: %w", domain.ErrValidation)
		}
	}
	sum := w.NewEvidence + w.Policy + w.Explanation + w.History
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("appeal weights must sum to 1, got %v: %w", sum, domain.ErrValidation)
	}
	return nil
}

// AppealThresholds drive the appeal decision.
type AppealThresholds struct {
	AutoOverturn float64 `yaml:"auto_overturn" json:"auto_overturn"`
	Escalate     float64 `yaml:"escalate" json:"escalate"`
}

// DefaultAppealThresholds returns the standard appeal thresholds.
func DefaultAppealThresholds() AppealThresholds {
	return AppealThresholds{AutoOverturn: 0.75, Escalate: 0.50}
}

// Validate checks 0 <= escalate <= autoOverturn <= 1.
func (t AppealThresholds) Validate() error {
	if t.Escalate < 0 || t.AutoOverturn > 1 || t.Escalate > t.AutoOverturn {
		return fmt.Errorf("appeal thresholds must satisfy 0 <= escalate (%v) <= auto_overturn (%v) <= 1: %w",
			t.Escalate, t.AutoOverturn, domain.ErrValidation)
	}
	return nil
}

// AppealComposite is the weighted sum of the four sub-scores.
func AppealComposite(s appeal.Scores, w AppealWeights) float64 {
	return s.NewEvidence*w.NewEvidence +
		s.Policy*w.Policy +
		s.Explanation*w.Explanation +
		s.History*w.History
}

// AppealDecide maps a composite score to an appeal decision. It is total:
// every input yields overturned, escalated or upheld.
func AppealDecide(composite float64, t AppealThresholds) appeal.Decision {
	switch {
	case composite >= t.AutoOverturn:
		return appeal.DecisionOverturned
	case composite >= t.Escalate:
		return appeal.DecisionEscalated
	default:
		return appeal.DecisionUpheld
	}
}

// AppealEvaluation is the normalized classifier verdict on an appeal.
type AppealEvaluation struct {
	Scores         appeal.Scores `json:"scores"`
	Recommendation string        `json:"recommendation,omitempty"`
	Reasoning      string        `json:"reasoning"`
	Issues         []string      `json:"issues,omitempty"`
}

// ParseAppealEvaluation reads the four *_SCORE keys, RECOMMENDATION and
// REASONING. Missing or unparsable scores default to 0.
func ParseAppealEvaluation(raw string) AppealEvaluation {
	fields, issues := scanFields(raw, []string{
		"NEW_EVIDENCE_SCORE", "POLICY_SCORE", "EXPLANATION_SCORE", "HISTORY_SCORE",
		"RECOMMENDATION", "REASONING",
	})

	ev := AppealEvaluation{Reasoning: strings.TrimSpace(raw), Issues: issues}

	score := func(key string) float64 {
		v, ok := fields[key]
		if !ok {
			ev.Issues = append(ev.Issues, "missing "+key)
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			ev.Issues = append(ev.Issues, fmt.Sprintf("unparsable %s %q", key, v))
			return 0
		}
		return clamp01(f)
	}

	ev.Scores = appeal.Scores{
		NewEvidence: score("NEW_EVIDENCE_SCORE"),
		Policy:      score("POLICY_SCORE"),
		Explanation: score("EXPLANATION_SCORE"),
		History:     score("HISTORY_SCORE"),
	}
	ev.Recommendation = strings.ToLower(strings.TrimSpace(fields["RECOMMENDATION"]))
	if v, ok := fields["REASONING"]; ok && strings.TrimSpace(v) != "" {
		ev.Reasoning = strings.TrimSpace(v)
	}
	return ev
}
