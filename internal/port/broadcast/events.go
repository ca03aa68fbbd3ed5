package broadcast

// QueueChangedEvent is sent when a review queue item is created or changes status.
type QueueChangedEvent struct {
	ThreadID string `json:"thread_id"`
	CaseID   string `json:"case_id,omitempty"`
	AppealID string `json:"appeal_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status"`
	Reviewer string `json:"reviewer,omitempty"`
}

// CaseDecidedEvent is sent when a moderation thread terminates.
type CaseDecidedEvent struct {
	CaseID     string `json:"case_id"`
	Decision   string `json:"decision"`
	Action     string `json:"action,omitempty"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
}

// AppealResolvedEvent is sent when an appeal thread terminates.
type AppealResolvedEvent struct {
	AppealID   string  `json:"appeal_id"`
	CaseID     string  `json:"case_id"`
	Decision   string  `json:"decision"`
	Composite  float64 `json:"composite"`
	ResolvedBy string  `json:"resolved_by"`
}
