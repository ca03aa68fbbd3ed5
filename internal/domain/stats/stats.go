// Package stats holds aggregated moderation statistics.
package stats

import "time"

// Snapshot is a consistent point-in-time view of moderation activity.
type Snapshot struct {
	TotalCases     int            `json:"total_cases"`
	ByDecision     map[string]int `json:"by_decision"`
	RecentCases    int            `json:"recent_cases"`
	Window         time.Duration  `json:"window"`
	PendingQueue   int            `json:"pending_queue"`
	PendingAppeals int            `json:"pending_appeals"`
	TakenAt        time.Time      `json:"taken_at"`
}

// Metric is one recorded sample in the metrics snapshot table.
type Metric struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}
