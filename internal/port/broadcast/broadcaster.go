// Package broadcast defines the port for pushing live events to connected reviewers.
package broadcast

import "context"

// Event types pushed to the reviewer feed.
const (
	EventQueueChanged   = "queue.changed"
	EventCaseDecided    = "case.decided"
	EventAppealResolved = "appeal.resolved"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop drops all events.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
