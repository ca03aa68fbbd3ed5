package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/ModGuard/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20
	idempotencyNamespace = "idem"
)

type idempotencyEntry struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response of a POST carrying an
// Idempotency-Key header. A retried submission therefore returns the
// original thread instead of starting a second one. Only responses below
// 500 are stored, so server failures can be retried.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := cache.Key(idempotencyNamespace, r.URL.Path, key)

			raw, ok, err := c.Get(r.Context(), cacheKey)
			if err != nil {
				slog.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
			}
			if ok {
				var cached idempotencyEntry
				if err := json.Unmarshal(raw, &cached); err == nil {
					if cached.ContentType != "" {
						w.Header().Set("Content-Type", cached.ContentType)
					}
					w.Header().Set(headerReplayed, "true")
					w.WriteHeader(cached.StatusCode)
					_, _ = w.Write(cached.Body)
					return
				}
				slog.WarnContext(r.Context(), "idempotency: corrupt cache entry", "key", key)
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode:  rec.statusCode,
				ContentType: w.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), cacheKey, data, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
