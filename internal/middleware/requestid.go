// Package middleware provides HTTP middleware for the ModGuard API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Strob0t/ModGuard/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestID is HTTP middleware that takes X-Request-ID from the request or
// generates one. The ID is stored in the context for logging and echoed on
// the response. Oversized or non-printable inbound IDs are replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = generateID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return r < 0x21 || r > 0x7e }) < 0
}

// generateID returns a random 32-char hex ID.
func generateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
