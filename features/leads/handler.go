// Package leads exposes read and admin endpoints over stored leads.
package leads

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"leadbase/internal/index"
	"leadbase/internal/lead"
	"leadbase/internal/middleware"
)

// Repository is the slice of the lead store the endpoints use.
type Repository interface {
	Get(ctx context.Context, id string) (*lead.Lead, bool, error)
	List(ctx context.Context, f lead.Filter) ([]lead.Lead, int, error)
	Update(ctx context.Context, l *lead.Lead) error
	Delete(ctx context.Context, id string) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type Handler struct {
	repo Repository
	idx  index.Index
}

func NewHandler(repo Repository, idx index.Index) *Handler {
	return &Handler{repo: repo, idx: idx}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	l, found, err := h.repo.Get(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "fetching lead failed", "lead_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		h.writeError(r.Context(), w, "NOT_FOUND", "Lead not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": l})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f := lead.Filter{Limit: 20}

	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = s
	}
	if src := r.URL.Query().Get("source"); src != "" {
		f.Source = src
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			f.Limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	items, total, err := h.repo.List(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing leads failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"leads":  items,
			"total":  total,
			"limit":  f.Limit,
			"offset": f.Offset,
		},
	})
}

// Similar returns the indexed leads closest to a stored lead, the lead
// itself excluded.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	threshold := 0.8
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "threshold must be between 0 and 1", http.StatusBadRequest)
			return
		}
		threshold = f
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "limit must be between 1 and 20", http.StatusBadRequest)
			return
		}
		limit = n
	}

	l, found, err := h.repo.Get(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "fetching lead failed", "lead_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		h.writeError(r.Context(), w, "NOT_FOUND", "Lead not found", http.StatusNotFound)
		return
	}

	// Fetch one extra so the lead's own record never displaces a match.
	results, err := h.idx.FindSimilar(r.Context(), l, threshold, limit+1)
	if err != nil {
		slog.ErrorContext(r.Context(), "similar lead search failed", "lead_id", id, "error", err)
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
		if res.LeadID == id {
			continue
		}
		hits = append(hits, hit{LeadID: res.LeadID, Score: res.Score, Metadata: res.Metadata})
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"original_lead_id": id,
			"similar_leads":    hits,
			"threshold":        threshold,
			"limit":            limit,
			"total_found":      len(hits),
		},
	})
}

// Update applies operator edits to a stored lead. Only status and
// custom fields are mutable; message, contact and analysis are not.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if len(fields) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "no updatable fields provided", http.StatusBadRequest)
		return
	}
	for k := range fields {
		if k != "status" && k != "custom_fields" {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "cannot update field: "+k, http.StatusBadRequest)
			return
		}
	}

	l, found, err := h.repo.Get(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "fetching lead failed", "lead_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		h.writeError(r.Context(), w, "NOT_FOUND", "Lead not found", http.StatusNotFound)
		return
	}

	updated := make([]string, 0, len(fields))
	if raw, ok := fields["status"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || !lead.ValidStatus(s) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid status", http.StatusBadRequest)
			return
		}
		l.Status = lead.Status(s)
		updated = append(updated, "status")
	}
	if raw, ok := fields["custom_fields"]; ok {
		var cf map[string]string
		if err := json.Unmarshal(raw, &cf); err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "custom_fields must be a string map", http.StatusBadRequest)
			return
		}
		l.CustomFields = cf
		updated = append(updated, "custom_fields")
	}

	if err := h.repo.Update(r.Context(), l); err != nil {
		slog.ErrorContext(r.Context(), "updating lead failed", "lead_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Re-embed so the index snapshot tracks the stored lead.
	if _, err := h.idx.Update(r.Context(), l); err != nil {
		slog.WarnContext(r.Context(), "updating lead in index failed", "lead_id", id, "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"lead":           l,
			"updated_fields": updated,
		},
	})
}

// Delete removes the lead from both the store and the similarity index.
// An index miss is tolerated; the store is the source of truth.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "deleting lead failed", "lead_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		h.writeError(r.Context(), w, "NOT_FOUND", "Lead not found", http.StatusNotFound)
		return
	}

	removed, err := h.idx.Remove(r.Context(), id)
	if err != nil {
		slog.WarnContext(r.Context(), "removing lead from index failed", "lead_id", id, "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"id":            id,
			"index_removed": removed,
		},
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := h.repo.CountByStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "counting leads failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	indexed, err := h.idx.Count(r.Context())
	if err != nil {
		slog.WarnContext(r.Context(), "counting indexed leads failed", "error", err)
		indexed = -1
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"total":     total,
			"by_status": byStatus,
			"indexed":   indexed,
		},
	})
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
