// Package notifier defines the moderator alert port.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is missing required settings.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is one moderator alert.
type Notification struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Level    string            `json:"level"`  // "info", "warning", "error"
	Source   string            `json:"source"` // e.g. "case.escalated", "appeal.escalated"
	CaseID   string            `json:"case_id,omitempty"`
	AppealID string            `json:"appeal_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Notifier delivers moderator alerts to an external channel.
type Notifier interface {
	// Name returns the channel identifier, e.g. "slack".
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}

// Nop discards notifications. It is used when no channel is configured.
type Nop struct{}

func (Nop) Name() string                             { return "nop" }
func (Nop) Send(context.Context, Notification) error { return nil }
