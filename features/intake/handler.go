// Package intake exposes the lead submission endpoints: single and
// batch submission, pre-submission similarity checks and intake health.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"leadbase/internal/index"
	"leadbase/internal/lead"
	"leadbase/internal/middleware"
	"leadbase/internal/worker"
)

// MaxBatchSize caps one batch submission.
const MaxBatchSize = 50

// Processor runs a stored lead through the enrichment pipeline.
type Processor interface {
	Process(ctx context.Context, l *lead.Lead) error
}

// Repository persists accepted leads.
type Repository interface {
	Create(ctx context.Context, l *lead.Lead) error
}

// Publisher enqueues accepted leads for asynchronous processing.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// RateLimiter throttles submissions per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

type Handler struct {
	repo      Repository
	idx       index.Index
	processor Processor
	publisher Publisher
	limiter   RateLimiter
	analyzer  HealthChecker
	crm       HealthChecker

	async          bool
	batchParallel  int
	checkThreshold float64
}

type Options struct {
	Async          bool
	BatchParallel  int
	CheckThreshold float64
}

func NewHandler(repo Repository, idx index.Index, processor Processor, publisher Publisher, limiter RateLimiter, analyzer, crm HealthChecker, opts Options) *Handler {
	if opts.BatchParallel <= 0 {
		opts.BatchParallel = 8
	}
	if opts.CheckThreshold <= 0 {
		opts.CheckThreshold = 0.85
	}
	return &Handler{
		repo:           repo,
		idx:            idx,
		processor:      processor,
		publisher:      publisher,
		limiter:        limiter,
		analyzer:       analyzer,
		crm:            crm,
		async:          opts.Async,
		batchParallel:  opts.BatchParallel,
		checkThreshold: opts.CheckThreshold,
	}
}

type submitRequest struct {
	Message      string            `json:"message"`
	Contact      lead.Contact      `json:"contact"`
	Source       string            `json:"source"`
	CustomFields map[string]string `json:"custom_fields"`
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if !h.allow(r) {
		h.writeError(r.Context(), w, "RATE_LIMITED", "Too many submissions, slow down", http.StatusTooManyRequests)
		return
	}

	l, err := lead.New(req.Message, req.Contact, req.Source, req.CustomFields)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), l); err != nil {
		slog.ErrorContext(r.Context(), "storing lead failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if h.async && h.publisher != nil {
		if h.enqueue(r.Context(), l) {
			h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"data": map[string]interface{}{"id": l.ID, "status": l.Status},
			})
			return
		}
		// Queue is down, process inline rather than losing the lead.
		slog.WarnContext(r.Context(), "enqueue failed, processing synchronously", "lead_id", l.ID)
	}

	if err := h.processor.Process(r.Context(), l); err != nil {
		slog.ErrorContext(r.Context(), "processing failed", "lead_id", l.ID, "error", err)
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": l})
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Leads []submitRequest `json:"leads"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Leads) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "leads cannot be empty", http.StatusBadRequest)
		return
	}
	if len(req.Leads) > MaxBatchSize {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "batch exceeds "+strconv.Itoa(MaxBatchSize)+" leads", http.StatusBadRequest)
		return
	}

	if !h.allow(r) {
		h.writeError(r.Context(), w, "RATE_LIMITED", "Too many submissions, slow down", http.StatusTooManyRequests)
		return
	}

	type itemResult struct {
		ID     string `json:"id,omitempty"`
		Status string `json:"status,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	results := make([]itemResult, len(req.Leads))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(h.batchParallel)

	for i, item := range req.Leads {
		g.Go(func() error {
			l, err := lead.New(item.Message, item.Contact, item.Source, item.CustomFields)
			if err != nil {
				results[i] = itemResult{Error: err.Error()}
				return nil
			}
			if err := h.repo.Create(ctx, l); err != nil {
				results[i] = itemResult{Error: "storing lead failed"}
				return nil
			}
			if h.async && h.publisher != nil && h.enqueue(ctx, l) {
				results[i] = itemResult{ID: l.ID, Status: string(l.Status)}
				return nil
			}
			if err := h.processor.Process(ctx, l); err != nil {
				slog.ErrorContext(ctx, "batch item processing failed", "lead_id", l.ID, "error", err)
			}
			results[i] = itemResult{ID: l.ID, Status: string(l.Status)}
			return nil
		})
	}
	_ = g.Wait()

	accepted := 0
	for _, res := range results {
		if res.Error == "" {
			accepted++
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"accepted": accepted,
			"rejected": len(results) - accepted,
			"results":  results,
		},
	})
}

func (h *Handler) CheckSimilar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string       `json:"message"`
		Contact   lead.Contact `json:"contact"`
		Threshold *float64     `json:"threshold"`
		Limit     int          `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	threshold := h.checkThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "threshold must be between 0 and 1", http.StatusBadRequest)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "limit must be at most 50", http.StatusBadRequest)
		return
	}

	probe, err := lead.New(req.Message, req.Contact, "check", nil)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	results, err := h.idx.FindSimilar(r.Context(), probe, threshold, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "similarity check failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Similarity search unavailable", http.StatusServiceUnavailable)
		return
	}

	type hit struct {
		LeadID   string         `json:"lead_id"`
		Score    float64        `json:"score"`
		Metadata index.Metadata `json:"metadata"`
	}
	hits := make([]hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, hit{LeadID: res.LeadID, Score: res.Score, Metadata: res.Metadata})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"matches": hits,
			"count":   len(hits),
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"index": h.idx.HealthCheck(r.Context()),
	}
	if h.analyzer != nil {
		checks["analyzer"] = h.analyzer.HealthCheck(r.Context())
	}
	if h.crm != nil {
		checks["crm"] = h.crm.HealthCheck(r.Context())
	}

	healthy := 0
	for _, ok := range checks {
		if ok {
			healthy++
		}
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case healthy == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(checks):
		status = "degraded"
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// enqueue publishes the intake payload, reporting success so the
// caller can fall back to synchronous processing.
func (h *Handler) enqueue(ctx context.Context, l *lead.Lead) bool {
	payload := worker.PayloadFor(l, middleware.GetCorrelationID(ctx))
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshalling intake payload", "error", err)
		return false
	}
	if err := h.publisher.Publish(worker.TopicIntake, body); err != nil {
		slog.ErrorContext(ctx, "publishing intake payload", "error", err)
		return false
	}
	return true
}

// allow consults the rate limiter keyed by client IP. No limiter, or a
// limiter error, admits the request.
func (h *Handler) allow(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(r.Context(), clientIP(r))
	if err != nil {
		slog.WarnContext(r.Context(), "rate limiter unavailable, admitting request", "error", err)
		return true
	}
	return ok
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
