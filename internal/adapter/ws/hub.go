// Package ws implements the live reviewer feed over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/ModGuard/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// subscriber is one connected reviewer console.
type subscriber struct {
	send   chan []byte
	types  map[string]bool // empty receives every event type
	cancel context.CancelFunc
	slow   atomic.Bool
}

func (s *subscriber) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// parseTypes reads the comma separated ?types= filter.
func parseTypes(raw string) map[string]bool {
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

// Hub fans events out to connected reviewers. Each subscriber has a small
// buffer; a subscriber whose buffer is full is disconnected rather than
// allowed to stall the pipeline step that published the event.
type Hub struct {
	mu           sync.RWMutex
	subs         map[*subscriber]struct{}
	buffer       int
	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:         make(map[*subscriber]struct{}),
		buffer:       32,
		writeTimeout: 5 * time.Second,
	}
}

// BroadcastEvent implements broadcast.Broadcaster. Nothing is encoded while
// no reviewer is connected.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	if h.ConnectionCount() == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "reviewer feed: encode event", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: eventType, At: time.Now().UTC(), Payload: body})
	if err != nil {
		slog.ErrorContext(ctx, "reviewer feed: encode envelope", "type", eventType, "error", err)
		return
	}
	h.publish(ctx, eventType, data)
}

func (h *Hub) publish(ctx context.Context, eventType string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(eventType) {
			continue
		}
		select {
		case s.send <- data:
		default:
			slog.WarnContext(ctx, "reviewer feed: dropping slow subscriber", "type", eventType)
			s.slow.Store(true)
			s.cancel()
		}
	}
}

// ConnectionCount returns the number of connected reviewers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.cancel()
}
