package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain/audit"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
	"github.com/Strob0t/ModGuard/internal/domain/reviewqueue"
	"github.com/Strob0t/ModGuard/internal/service"
)

// HealthCheck probes one dependency for /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Moderation *service.ModerationService
	Appeals    *service.AppealService
	Review     *service.ReviewService
	Stats      *service.StatsService
	Checks     []HealthCheck
}

// SubmitContent handles POST /api/v1/moderation.
func (h *Handlers) SubmitContent(w http.ResponseWriter, r *http.Request) {
	created(h.Moderation.Submit, "case not found")(w, r)
}

// ListCases handles GET /api/v1/cases.
func (h *Handlers) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	f := moderation.ListFilter{
		Decision: moderation.Decision(q.Get("decision")),
		Category: q.Get("category"),
		AuthorID: q.Get("author_id"),
		Limit:    limit,
	}
	if f.Decision != "" && !f.Decision.Valid() {
		writeError(w, http.StatusBadRequest, "unknown decision filter")
		return
	}
	cases, err := h.Moderation.ListCases(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "cases not found")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(cases))
}

// GetCase handles GET /api/v1/cases/{id}.
func (h *Handlers) GetCase(w http.ResponseWriter, r *http.Request) {
	byID(h.Moderation.GetCase, "case not found")(w, r)
}

// CaseAudit handles GET /api/v1/cases/{id}/audit.
func (h *Handlers) CaseAudit(w http.ResponseWriter, r *http.Request) {
	byID(func(ctx context.Context, id string) ([]audit.Entry, error) {
		entries, err := h.Moderation.CaseAudit(ctx, id)
		return orEmpty(entries), err
	}, "case not found")(w, r)
}

// FileAppeal handles POST /api/v1/appeals.
func (h *Handlers) FileAppeal(w http.ResponseWriter, r *http.Request) {
	created(h.Appeals.File, "case not found")(w, r)
}

// GetAppeal handles GET /api/v1/appeals/{id}.
func (h *Handlers) GetAppeal(w http.ResponseWriter, r *http.Request) {
	byID(h.Appeals.Get, "appeal not found")(w, r)
}

// ReviewQueue handles GET /api/v1/review-queue. The status defaults to pending.
func (h *Handlers) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	status := reviewqueue.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = reviewqueue.StatusPending
	}
	items, err := h.Review.Queue(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

type assignRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// AssignQueueItem handles POST /api/v1/review-queue/{id}/assign.
func (h *Handlers) AssignQueueItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[assignRequest](w, r)
	if !ok || !requireField(w, req.ReviewerID, "reviewer_id") {
		return
	}
	it, err := h.Review.Assign(r.Context(), urlParam(r, "id"), req.ReviewerID)
	if err != nil {
		writeDomainError(w, err, "queue item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// InspectThread handles GET /api/v1/threads/{id}.
func (h *Handlers) InspectThread(w http.ResponseWriter, r *http.Request) {
	byID(h.Review.Inspect, "no suspended thread with this id")(w, r)
}

// ResumeThread handles POST /api/v1/threads/{id}/resume.
func (h *Handlers) ResumeThread(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.ResumeRequest](w, r)
	if !ok || !requireField(w, req.Decision, "decision") || !requireField(w, req.ReviewerID, "reviewer_id") {
		return
	}
	res, err := h.Review.Resume(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "no suspended thread with this id")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Statistics handles GET /api/v1/stats. An optional window is a Go duration.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}
	snap, err := h.Stats.Snapshot(r.Context(), window)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Health handles GET /health. Any failing check answers 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for _, c := range h.Checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
