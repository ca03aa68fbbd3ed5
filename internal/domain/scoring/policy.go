package scoring

import (
	"fmt"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
)

// SeverityWeights maps a severity to its risk multiplier.
type SeverityWeights map[moderation.Severity]float64

// DefaultSeverityWeights returns the standard severity multipliers.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{
		moderation.SeverityLow:      0.3,
		moderation.SeverityMedium:   0.6,
		moderation.SeverityHigh:     0.8,
		moderation.SeverityCritical: 1.0,
	}
}

// RiskScore is min(confidence * weight[severity], 1) using the default weights.
// A missing severity scores 0.
func RiskScore(confidence float64, severity moderation.Severity) float64 {
	return DefaultSeverityWeights().RiskScore(confidence, severity)
}

// RiskScore is min(confidence * w[severity], 1). Unknown or missing
// severities score 0.
func (w SeverityWeights) RiskScore(confidence float64, severity moderation.Severity) float64 {
	weight, ok := w[severity]
	if !ok {
		return 0
	}
	return clamp01(clamp01(confidence) * weight)
}

// Thresholds drive the moderation decision and routing.
type Thresholds struct {
	// AutoReject is the inclusive confidence at which a violation is rejected without review.
	AutoReject float64 `yaml:"auto_reject" json:"auto_reject"`
	// Escalate is the inclusive confidence at which a violation goes to a reviewer.
	Escalate float64 `yaml:"escalate" json:"escalate"`
	// CertaintyFloor sends any verdict with confidence strictly below it to a reviewer.
	CertaintyFloor float64 `yaml:"certainty_floor" json:"certainty_floor"`
}

// DefaultThresholds returns the standard moderation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoReject: 0.90, Escalate: 0.70, CertaintyFloor: 0.70}
}

// Validate checks 0 <= escalate <= autoReject <= 1 and the floor is a probability.
func (t Thresholds) Validate() error {
	if t.Escalate < 0 || t.AutoReject > 1 || t.Escalate > t.AutoReject {
		return fmt.Errorf("thresholds must satisfy 0 <= escalate (%v) <= auto_reject (%v) <= 1: %w",
			t.Escalate, t.AutoReject, domain.ErrValidation)
	}
	if t.CertaintyFloor < 0 || t.CertaintyFloor > 1 {
		return fmt.Errorf("certainty_floor %v out of range: %w", t.CertaintyFloor, domain.ErrValidation)
	}
	return nil
}

// Decide maps a verdict to a moderation decision.
func Decide(confidence float64, violation bool, t Thresholds) moderation.Decision {
	switch {
	case !violation:
		return moderation.DecisionApproved
	case confidence >= t.AutoReject:
		return moderation.DecisionRejected
	case confidence >= t.Escalate:
		return moderation.DecisionEscalated
	default:
		return moderation.DecisionPending
	}
}
