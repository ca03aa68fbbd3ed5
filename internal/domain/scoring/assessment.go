// Package scoring turns classifier text into validated assessments and
// computes the deterministic scores and decisions derived from them.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Strob0t/ModGuard/internal/domain/moderation"
)

// DefaultConfidence is used when the classifier omits or garbles CONFIDENCE.
const DefaultConfidence = 0.5

// UnspecifiedCategory is recorded when a violation is signaled without a usable TYPE.
const UnspecifiedCategory = "unspecified"

// Assessment is the normalized verdict for one piece of content.
type Assessment struct {
	Violation  bool                `json:"violation"`
	Category   string              `json:"category,omitempty"`
	Severity   moderation.Severity `json:"severity,omitempty"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	// Issues lists the format problems that were replaced by defaults.
	Issues []string `json:"issues,omitempty"`
}

// ParseAssessment scans line-oriented KEY: value pairs from a classifier
// response. It never fails: unknown or malformed lines are ignored and
// missing fields fall back to defaults, with each fallback noted in Issues.
func ParseAssessment(raw string) Assessment {
	fields, issues := scanFields(raw, []string{"VIOLATION", "TYPE", "SEVERITY", "CONFIDENCE", "REASONING"})

	a := Assessment{
		Confidence: DefaultConfidence,
		Severity:   moderation.SeverityMedium,
		Reasoning:  strings.TrimSpace(raw),
		Issues:     issues,
	}

	if v, ok := fields["VIOLATION"]; ok {
		a.Violation = strings.Contains(strings.ToLower(v), "yes")
	} else {
		a.Issues = append(a.Issues, "missing VIOLATION")
	}

	if a.Violation {
		category := strings.ToLower(strings.TrimSpace(fields["TYPE"]))
		if category == "" || category == "none" {
			a.Issues = append(a.Issues, "violation without TYPE")
			category = UnspecifiedCategory
		}
		a.Category = category
	}

	if v, ok := fields["SEVERITY"]; ok {
		if sev, valid := moderation.ParseSeverity(strings.ToLower(strings.TrimSpace(v))); valid {
			a.Severity = sev
		} else {
			a.Issues = append(a.Issues, fmt.Sprintf("unknown SEVERITY %q", v))
		}
	}

	if v, ok := fields["CONFIDENCE"]; ok {
		c, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(c) {
			a.Issues = append(a.Issues, fmt.Sprintf("unparsable CONFIDENCE %q", v))
		} else {
			a.Confidence = clamp01(c)
		}
	} else {
		a.Issues = append(a.Issues, "missing CONFIDENCE")
	}

	if v, ok := fields["REASONING"]; ok && strings.TrimSpace(v) != "" {
		a.Reasoning = strings.TrimSpace(v)
	}

	if !a.Violation {
		a.Category = ""
		a.Severity = moderation.SeverityNone
	}
	return a
}

// scanFields collects the values of the recognized keys. A REASONING value
// absorbs following lines that do not start another recognized key.
func scanFields(raw string, keys []string) (map[string]string, []string) {
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	fields := make(map[string]string)
	var issues []string
	var current string

	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := splitKeyValue(line)
		if ok && known[key] {
			if _, dup := fields[key]; dup {
				issues = append(issues, "duplicate "+key)
				current = ""
				continue
			}
			fields[key] = value
			current = key
			continue
		}
		if current == "REASONING" && strings.TrimSpace(line) != "" {
			fields[current] += "\n" + strings.TrimSpace(line)
		}
	}
	return fields, issues
}

// splitKeyValue splits "KEY: value", tolerating list bullets and markdown bold.
func splitKeyValue(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-* ")
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	k = strings.ToUpper(strings.Trim(strings.TrimSpace(k), "*"))
	v = strings.Trim(strings.TrimSpace(v), "*")
	return k, strings.TrimSpace(v), true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
