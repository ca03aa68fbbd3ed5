package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/ModGuard/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"generated", "", false},
		{"propagated", "req-abc-123", true},
		{"too long", strings.Repeat("a", 200), false},
		{"control chars", "abc\x01def", false},
		{"spaces", "abc def", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.RequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.inbound != "" {
				req.Header.Set("X-Request-ID", tt.inbound)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got != seen {
				t.Fatalf("response id %q differs from context id %q", got, seen)
			}
			if tt.keep && got != tt.inbound {
				t.Errorf("expected inbound id %q to be kept, got %q", tt.inbound, got)
			}
			if !tt.keep && (got == tt.inbound || len(got) != 32) {
				t.Errorf("expected a generated 32-char id, got %q", got)
			}
		})
	}
}
