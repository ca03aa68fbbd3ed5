package messagequeue

// SubmissionPayload is the schema for moderation.submitted messages.
type SubmissionPayload struct {
	ContentType string         `json:"content_type"`
	Content     string         `json:"content"`
	AuthorID    string         `json:"author_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DecisionPayload is the schema for moderation.decided messages.
type DecisionPayload struct {
	CaseID     string  `json:"case_id"`
	AuthorID   string  `json:"author_id"`
	Decision   string  `json:"decision"`
	Category   string  `json:"category,omitempty"`
	Severity   string  `json:"severity,omitempty"`
	Action     string  `json:"action,omitempty"`
	RiskScore  float64 `json:"risk_score"`
	ReviewedBy string  `json:"reviewed_by,omitempty"`
}

// EscalationPayload is the schema for moderation.escalated messages.
type EscalationPayload struct {
	ThreadID   string  `json:"thread_id"`
	CaseID     string  `json:"case_id,omitempty"`
	AppealID   string  `json:"appeal_id,omitempty"`
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// AppealResolvedPayload is the schema for appeals.resolved messages.
type AppealResolvedPayload struct {
	AppealID   string  `json:"appeal_id"`
	CaseID     string  `json:"case_id"`
	Decision   string  `json:"decision"`
	Composite  float64 `json:"composite"`
	ResolvedBy string  `json:"resolved_by"`
}

// NotificationPayload is the schema for moderation.notify messages.
type NotificationPayload struct {
	UserID   string `json:"user_id"`
	CaseID   string `json:"case_id,omitempty"`
	AppealID string `json:"appeal_id,omitempty"`
	Decision string `json:"decision"`
	Message  string `json:"message"`
}
