package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/ModGuard/internal/port/broadcast"
)

func dialFeed(t *testing.T, hub *Hub, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return client, ctx
}

func readMessage(t *testing.T, ctx context.Context, c *websocket.Conn) Message {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHubWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	hub.BroadcastEvent(context.Background(), broadcast.EventQueueChanged, map[string]string{"case_id": "case_1"})
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
	if hub.ConnectionCount() != 0 {
		t.Fatalf("connections = %d", hub.ConnectionCount())
	}
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub()
	client, ctx := dialFeed(t, hub, "")

	hub.BroadcastEvent(ctx, broadcast.EventCaseDecided, map[string]string{"case_id": "case_9"})

	msg := readMessage(t, ctx, client)
	if msg.Type != broadcast.EventCaseDecided || !strings.Contains(string(msg.Payload), "case_9") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.At.IsZero() {
		t.Error("event must carry its send time")
	}
}

func TestHubTypeFilter(t *testing.T) {
	hub := NewHub()
	client, ctx := dialFeed(t, hub, "?types="+broadcast.EventAppealResolved)

	hub.BroadcastEvent(ctx, broadcast.EventCaseDecided, map[string]string{"case_id": "case_1"})
	hub.BroadcastEvent(ctx, broadcast.EventAppealResolved, map[string]string{"appeal_id": "appeal_1"})

	if msg := readMessage(t, ctx, client); msg.Type != broadcast.EventAppealResolved {
		t.Fatalf("filtered feed delivered %s", msg.Type)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &subscriber{send: make(chan []byte, 1), types: parseTypes(""), cancel: cancel}
	hub.add(s)

	hub.publish(context.Background(), broadcast.EventQueueChanged, []byte("1"))
	if ctx.Err() != nil {
		t.Fatal("dropped while the buffer had room")
	}
	hub.publish(context.Background(), broadcast.EventQueueChanged, []byte("2"))
	if ctx.Err() == nil || !s.slow.Load() {
		t.Fatal("full buffer did not drop the subscriber")
	}

	hub.remove(s)
	if hub.ConnectionCount() != 0 {
		t.Fatal("subscriber not removed")
	}
}

func TestParseTypes(t *testing.T) {
	got := parseTypes(" case.decided, ,queue.changed,")
	if len(got) != 2 || !got["case.decided"] || !got["queue.changed"] {
		t.Fatalf("parseTypes = %v", got)
	}
	if len(parseTypes("")) != 0 {
		t.Fatal("empty filter must match everything")
	}
}
