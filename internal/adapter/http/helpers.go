package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ModGuard/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryInt parses an optional integer query parameter. Missing values
// yield 0; malformed values write a 400 and return false.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// byID answers GET routes keyed by the {id} path parameter with whatever fn
// returns for it. missing is the 404 message.
func byID[T any](fn func(ctx context.Context, id string) (T, error), missing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r.Context(), urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, missing)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// created decodes a Req body, hands it to fn and answers 201 with the result.
func created[Req, Res any](fn func(ctx context.Context, req Req) (Res, error), missing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		res, err := fn(r.Context(), req)
		if err != nil {
			writeDomainError(w, err, missing)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// orEmpty keeps list endpoints from encoding a nil slice as null.
func orEmpty[E any](items []E) []E {
	if items == nil {
		return []E{}
	}
	return items
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error()))
	case errors.Is(err, domain.ErrThreadConflict):
		writeError(w, http.StatusConflict, "thread is already being processed")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified or already resolved")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
