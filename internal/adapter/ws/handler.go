package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// HandleWS upgrades the request and streams events until the client goes
// away or falls too far behind. ?types=case.decided,queue.changed limits
// the feed to those event types.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer func() { _ = c.CloseNow() }()

	ctx, cancel := context.WithCancel(r.Context())
	s := &subscriber{
		send:   make(chan []byte, h.buffer),
		types:  parseTypes(r.URL.Query().Get("types")),
		cancel: cancel,
	}
	h.add(s)
	defer h.remove(s)

	// The feed is one-way; CloseRead answers pings and cancels on disconnect.
	ctx = c.CloseRead(ctx)
	slog.InfoContext(ctx, "reviewer feed connected", "remote", r.RemoteAddr, "types", len(s.types))

	for {
		select {
		case <-ctx.Done():
			if s.slow.Load() {
				_ = c.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			slog.InfoContext(r.Context(), "reviewer feed disconnected", "remote", r.RemoteAddr)
			return
		case data := <-s.send:
			wctx, wcancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.DebugContext(ctx, "websocket write failed", "error", err)
				return
			}
		}
	}
}
