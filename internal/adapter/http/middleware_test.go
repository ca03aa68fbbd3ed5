package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorderPassThrough(t *testing.T) {
	inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	rec := &statusRecorder{ResponseWriter: inner}

	if _, _, err := rec.Hijack(); err != nil || !inner.hijacked {
		t.Fatalf("hijack not delegated: err=%v", err)
	}
	rec.Flush()
	if !inner.Flushed {
		t.Error("flush not delegated")
	}
	if rec.Unwrap() != inner {
		t.Error("Unwrap returned a different writer")
	}

	plain := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := plain.Hijack(); err == nil {
		t.Error("expected error when the inner writer cannot hijack")
	}
}

func TestStatusRecorderCounts(t *testing.T) {
	tests := []struct {
		name   string
		handle func(w http.ResponseWriter)
		status int
		bytes  int
	}{
		{"implicit ok", func(w http.ResponseWriter) { _, _ = w.Write([]byte("{}")) }, http.StatusOK, 2},
		{"explicit", func(w http.ResponseWriter) { w.WriteHeader(http.StatusConflict) }, http.StatusConflict, 0},
		{"first status wins", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusCreated)
			w.WriteHeader(http.StatusTeapot)
		}, http.StatusCreated, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
			tt.handle(rec)
			if rec.Status() != tt.status || rec.bytes != tt.bytes {
				t.Errorf("status=%d bytes=%d, want %d/%d", rec.Status(), rec.bytes, tt.status, tt.bytes)
			}
		})
	}
}

func TestAccessLevel(t *testing.T) {
	for status, want := range map[int]string{200: "INFO", 404: "WARN", 503: "ERROR"} {
		if got := accessLevel(status).String(); got != want {
			t.Errorf("accessLevel(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cases", http.NoBody))
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestCORS(t *testing.T) {
	var reached bool
	h := CORS("https://review.example.com")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/moderation", http.NoBody))
	if reached || rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: reached=%v code=%d", reached, rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("preflight missing allow headers")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/moderation", http.NoBody))
	if !reached {
		t.Fatal("non-preflight request did not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://review.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}
