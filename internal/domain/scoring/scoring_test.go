package scoring_test

import (
	"math"
	"strings"
	"testing"

	"github.com/Strob0t/ModGuard/internal/domain/appeal"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/scoring"
)

func TestParseAssessment(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		violation  bool
		category   string
		severity   moderation.Severity
		confidence float64
		reasoning  string
	}{
		{
			name:       "full violation",
			raw:        "VIOLATION: yes\nTYPE: harassment\nSEVERITY: critical\nCONFIDENCE: 0.95\nREASONING: explicit threat",
			violation:  true,
			category:   "harassment",
			severity:   moderation.SeverityCritical,
			confidence: 0.95,
			reasoning:  "explicit threat",
		},
		{
			name:       "no violation clears category and severity",
			raw:        "VIOLATION: no\nTYPE: scam\nSEVERITY: high\nCONFIDENCE: 0.8\nREASONING: friendly greeting",
			confidence: 0.8,
			reasoning:  "friendly greeting",
		},
		{
			name:       "missing confidence and severity default",
			raw:        "VIOLATION: yes\nTYPE: scam\nREASONING: asks for gift cards",
			violation:  true,
			category:   "scam",
			severity:   moderation.SeverityMedium,
			confidence: 0.5,
			reasoning:  "asks for gift cards",
		},
		{
			name:       "unparsable confidence defaults",
			raw:        "VIOLATION: yes\nTYPE: scam\nSEVERITY: low\nCONFIDENCE: very high",
			violation:  true,
			category:   "scam",
			severity:   moderation.SeverityLow,
			confidence: 0.5,
			reasoning:  "VIOLATION: yes\nTYPE: scam\nSEVERITY: low\nCONFIDENCE: very high",
		},
		{
			name:       "confidence clamped",
			raw:        "VIOLATION: yes\nTYPE: scam\nSEVERITY: low\nCONFIDENCE: 1.7\nREASONING: r",
			violation:  true,
			category:   "scam",
			severity:   moderation.SeverityLow,
			confidence: 1,
			reasoning:  "r",
		},
		{
			name:       "free text degrades to defaults",
			raw:        "I think this is fine.",
			confidence: 0.5,
			reasoning:  "I think this is fine.",
		},
		{
			name:       "violation without type",
			raw:        "VIOLATION: yes\nTYPE: none\nSEVERITY: high\nCONFIDENCE: 0.9\nREASONING: r",
			violation:  true,
			category:   scoring.UnspecifiedCategory,
			severity:   moderation.SeverityHigh,
			confidence: 0.9,
			reasoning:  "r",
		},
		{
			name:       "markdown bullets and multi-line reasoning",
			raw:        "- **VIOLATION**: Yes\n- **TYPE**: Fake_Profile\n- **SEVERITY**: HIGH\n- **CONFIDENCE**: 0.72\n- **REASONING**: stock photo\nreverse image search matches",
			violation:  true,
			category:   "fake_profile",
			severity:   moderation.SeverityHigh,
			confidence: 0.72,
			reasoning:  "stock photo\nreverse image search matches",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scoring.ParseAssessment(tt.raw)
			if a.Violation != tt.violation {
				t.Errorf("violation = %v, want %v", a.Violation, tt.violation)
			}
			if a.Category != tt.category {
				t.Errorf("category = %q, want %q", a.Category, tt.category)
			}
			if a.Severity != tt.severity {
				t.Errorf("severity = %q, want %q", a.Severity, tt.severity)
			}
			if a.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", a.Confidence, tt.confidence)
			}
			if a.Reasoning != tt.reasoning {
				t.Errorf("reasoning = %q, want %q", a.Reasoning, tt.reasoning)
			}
		})
	}
}

func TestParseAssessmentReportsIssues(t *testing.T) {
	a := scoring.ParseAssessment("nothing useful")
	if len(a.Issues) == 0 {
		t.Fatal("expected issues for unstructured response")
	}
	a = scoring.ParseAssessment("VIOLATION: no\nCONFIDENCE: 0.9\nREASONING: ok")
	if len(a.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", a.Issues)
	}
}

func TestRiskScoreBoundedAndMonotonic(t *testing.T) {
	severities := []moderation.Severity{
		moderation.SeverityLow, moderation.SeverityMedium,
		moderation.SeverityHigh, moderation.SeverityCritical,
	}
	for _, sev := range severities {
		prev := -1.0
		for i := 0; i <= 100; i++ {
			c := float64(i) / 100
			r := scoring.RiskScore(c, sev)
			if r < 0 || r > 1 {
				t.Fatalf("RiskScore(%v, %s) = %v out of [0,1]", c, sev, r)
			}
			if r < prev {
				t.Fatalf("RiskScore not monotonic at %v for %s: %v < %v", c, sev, r, prev)
			}
			prev = r
		}
	}
}

func TestRiskScoreValues(t *testing.T) {
	if got := scoring.RiskScore(0.95, moderation.SeverityCritical); got != 0.95 {
		t.Errorf("critical: got %v", got)
	}
	if got := scoring.RiskScore(0.5, moderation.SeverityLow); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("low: got %v", got)
	}
	if got := scoring.RiskScore(0.9, moderation.SeverityNone); got != 0 {
		t.Errorf("no severity: got %v", got)
	}
	w := scoring.SeverityWeights{moderation.SeverityHigh: 2}
	if got := w.RiskScore(0.8, moderation.SeverityHigh); got != 1 {
		t.Errorf("capped: got %v", got)
	}
}

func TestDecide(t *testing.T) {
	th := scoring.DefaultThresholds()
	tests := []struct {
		name       string
		confidence float64
		violation  bool
		want       moderation.Decision
	}{
		{"no violation", 0.99, false, moderation.DecisionApproved},
		{"auto reject boundary inclusive", 0.90, true, moderation.DecisionRejected},
		{"escalate boundary inclusive", 0.70, true, moderation.DecisionEscalated},
		{"just below escalate", 0.6999, true, moderation.DecisionPending},
		{"between", 0.85, true, moderation.DecisionEscalated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoring.Decide(tt.confidence, tt.violation, th); got != tt.want {
				t.Errorf("Decide(%v, %v) = %s, want %s", tt.confidence, tt.violation, got, tt.want)
			}
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := scoring.DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := scoring.Thresholds{AutoReject: 0.5, Escalate: 0.7}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for escalate above auto_reject")
	}
}

func TestActionTableResolve(t *testing.T) {
	table := scoring.DefaultActionTable()
	if got := table.Resolve("harassment", moderation.SeverityCritical); got != moderation.ActionPermanentBanAndReport {
		t.Errorf("harassment/critical = %s", got)
	}
	if got := table.Resolve("harassment", moderation.SeverityLow); got != moderation.ActionWarn {
		t.Errorf("harassment/low = %s", got)
	}
	if got := table.Resolve("unknown_category", moderation.SeverityLow); got != moderation.ActionPermanentBan {
		t.Errorf("missing category = %s, want permanent_ban", got)
	}
	if got := (scoring.ActionTable{"scam": {}}).Resolve("scam", moderation.SeverityHigh); got != moderation.ActionPermanentBan {
		t.Errorf("missing severity = %s, want permanent_ban", got)
	}
}

func TestAppealCompositeIsWeightedSum(t *testing.T) {
	w := scoring.DefaultAppealWeights()
	tuples := []appeal.Scores{
		{},
		{NewEvidence: 1, Policy: 1, Explanation: 1, History: 1},
		{NewEvidence: 0.9, Policy: 0.2, Explanation: 0.7, History: 0.4},
		{NewEvidence: 0, Policy: 1, Explanation: 0, History: 0.5},
	}
	for _, s := range tuples {
		want := s.NewEvidence*w.NewEvidence + s.Policy*w.Policy + s.Explanation*w.Explanation + s.History*w.History
		if got := scoring.AppealComposite(s, w); got != want {
			t.Errorf("AppealComposite(%+v) = %v, want %v", s, got, want)
		}
	}
	if got := scoring.AppealComposite(appeal.Scores{NewEvidence: 1, Policy: 1, Explanation: 1, History: 1}, w); math.Abs(got-1) > 1e-9 {
		t.Errorf("all ones should score 1, got %v", got)
	}
}

func TestAppealDecideIsTotal(t *testing.T) {
	th := scoring.DefaultAppealThresholds()
	for i := -10; i <= 110; i++ {
		c := float64(i) / 100
		switch d := scoring.AppealDecide(c, th); d {
		case appeal.DecisionOverturned, appeal.DecisionEscalated, appeal.DecisionUpheld:
		default:
			t.Fatalf("AppealDecide(%v) = %s outside the decision set", c, d)
		}
	}
	if got := scoring.AppealDecide(th.AutoOverturn, th); got != appeal.DecisionOverturned {
		t.Errorf("at auto_overturn: %s", got)
	}
	if got := scoring.AppealDecide(th.Escalate, th); got != appeal.DecisionEscalated {
		t.Errorf("at escalate: %s", got)
	}
	if got := scoring.AppealDecide(th.Escalate-0.01, th); got != appeal.DecisionUpheld {
		t.Errorf("below escalate: %s", got)
	}
}

func TestAppealWeightsValidate(t *testing.T) {
	if err := scoring.DefaultAppealWeights().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if err := (scoring.AppealWeights{NewEvidence: 0.5}).Validate(); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
}

func TestParseAppealEvaluation(t *testing.T) {
	ev := scoring.ParseAppealEvaluation(strings.Join([]string{
		"NEW_EVIDENCE_SCORE: 0.8",
		"POLICY_SCORE: 0.6",
		"EXPLANATION_SCORE: abc",
		"RECOMMENDATION: Overturn",
		"REASONING: provided verification photo",
	}, "\n"))

	want := appeal.Scores{NewEvidence: 0.8, Policy: 0.6}
	if ev.Scores != want {
		t.Errorf("scores = %+v, want %+v", ev.Scores, want)
	}
	if ev.Recommendation != "overturn" {
		t.Errorf("recommendation = %q", ev.Recommendation)
	}
	if ev.Reasoning != "provided verification photo" {
		t.Errorf("reasoning = %q", ev.Reasoning)
	}
	if len(ev.Issues) != 2 {
		t.Errorf("expected 2 issues (unparsable explanation, missing history), got %v", ev.Issues)
	}
}
