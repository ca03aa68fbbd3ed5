package scoring

import "github.com/Strob0t/ModGuard/internal/domain/moderation"

// ActionTable maps violation category and severity to an enforcement action.
type ActionTable map[string]map[moderation.Severity]moderation.Action

// Resolve looks up the action for category and severity. A missing entry
// resolves to permanent_ban.
func (t ActionTable) Resolve(category string, severity moderation.Severity) moderation.Action {
	if bySeverity, ok := t[category]; ok {
		if action, ok := bySeverity[severity]; ok && action != moderation.ActionNone {
			return action
		}
	}
	return moderation.ActionPermanentBan
}

// DefaultActionTable returns the enforcement policy for the standard categories.
func DefaultActionTable() ActionTable {
	return ActionTable{
		"harassment": {
			moderation.SeverityLow:      moderation.ActionWarn,
			moderation.SeverityMedium:   moderation.ActionTempBan24h,
			moderation.SeverityHigh:     moderation.ActionTempBan7d,
			moderation.SeverityCritical: moderation.ActionPermanentBanAndReport,
		},
		"scam": {
			moderation.SeverityLow:      moderation.ActionTempBan24h,
			moderation.SeverityMedium:   moderation.ActionTempBan7d,
			moderation.SeverityHigh:     moderation.ActionPermanentBan,
			moderation.SeverityCritical: moderation.ActionPermanentBanAndReport,
		},
		"fake_profile": {
			moderation.SeverityLow:      moderation.ActionWarn,
			moderation.SeverityMedium:   moderation.ActionTempBan24h,
			moderation.SeverityHigh:     moderation.ActionPermanentBan,
			moderation.SeverityCritical: moderation.ActionPermanentBan,
		},
		"inappropriate": {
			moderation.SeverityLow:      moderation.ActionWarn,
			moderation.SeverityMedium:   moderation.ActionTempBan24h,
			moderation.SeverityHigh:     moderation.ActionTempBan7d,
			moderation.SeverityCritical: moderation.ActionPermanentBan,
		},
		"age_verification": {
			moderation.SeverityLow:      moderation.ActionTempBan7d,
			moderation.SeverityMedium:   moderation.ActionPermanentBan,
			moderation.SeverityHigh:     moderation.ActionPermanentBan,
			moderation.SeverityCritical: moderation.ActionPermanentBanAndReport,
		},
	}
}
