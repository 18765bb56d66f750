package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"leadbase/internal/lead"
)

// Config carries the decision thresholds. Windows and thresholds pair
// up: a repeat inside the suspicious window above the suspicious
// threshold is flagged, one inside the link window above the link
// threshold is linked to the earlier lead.
type Config struct {
	SuspiciousWindowMinutes int
	SuspiciousThreshold     float64
	LinkWindowHours         int
	LinkThreshold           float64
	FlagSuspicious          bool
	AutoLink                bool
}

// HistoryEntry is one earlier lead from the same contact.
type HistoryEntry struct {
	LeadID     string
	Message    string
	ReceivedAt string
}

// SimilarityScorer compares two messages and returns a score in [0, 1].
type SimilarityScorer interface {
	MessageSimilarity(ctx context.Context, a, b string) (float64, error)
}

// Engine decides whether an incoming lead is a fresh submission, a
// linked repeat, or a suspicious duplicate. It never fails a lead: any
// error inside the decision degrades to the process action.
type Engine struct {
	cfg    Config
	scorer SimilarityScorer
	now    func() time.Time
}

func NewEngine(cfg Config, scorer SimilarityScorer) *Engine {
	return &Engine{cfg: cfg, scorer: scorer, now: time.Now}
}

// Decide evaluates the lead against the contact's prior submissions.
// History order does not matter; the engine sorts most recent first.
func (e *Engine) Decide(ctx context.Context, l *lead.Lead, history []HistoryEntry) *lead.Decision {
	if len(history) == 0 {
		return &lead.Decision{
			Action:           lead.ActionProcess,
			Reason:           "first submission from this contact",
			CustomerSequence: 1,
		}
	}

	type datedEntry struct {
		HistoryEntry
		at time.Time
	}
	sorted := make([]datedEntry, 0, len(history))
	for _, h := range history {
		at, err := time.Parse(time.RFC3339, h.ReceivedAt)
		if err != nil {
			// Zero time sorts the entry as earliest possible.
			slog.WarnContext(ctx, "unparsable history timestamp",
				"lead_id", h.LeadID, "received_at", h.ReceivedAt)
		}
		sorted = append(sorted, datedEntry{HistoryEntry: h, at: at})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].at.After(sorted[j].at)
	})

	relatedIDs := make([]string, 0, len(sorted))
	for _, h := range sorted {
		relatedIDs = append(relatedIDs, h.LeadID)
	}
	sequence := len(sorted) + 1
	mostRecent := sorted[0].HistoryEntry

	minutes := e.minutesSince(ctx, mostRecent.ReceivedAt)

	score, err := e.scorer.MessageSimilarity(ctx, l.Message, mostRecent.Message)
	if err != nil {
		slog.WarnContext(ctx, "decision degraded, similarity unavailable",
			"lead_id", l.ID, "error", err)
		return &lead.Decision{
			Action:           lead.ActionProcess,
			Reason:           "similarity unavailable, processing as new lead",
			RelatedLeads:     relatedIDs,
			CustomerSequence: sequence,
			TimeSinceLast:    &minutes,
		}
	}

	d := &lead.Decision{
		RelatedLeads:      relatedIDs,
		CustomerSequence:  sequence,
		TimeSinceLast:     &minutes,
		MessageSimilarity: &score,
	}

	switch {
	case e.cfg.FlagSuspicious &&
		minutes < e.cfg.SuspiciousWindowMinutes &&
		score > e.cfg.SuspiciousThreshold:
		d.Action = lead.ActionFlag
		d.Reason = fmt.Sprintf("suspicious duplicate: %.2f similarity within %d minutes", score, minutes)
		d.ParentLeadID = mostRecent.LeadID

	case e.cfg.AutoLink &&
		minutes < e.cfg.LinkWindowHours*60 &&
		score > e.cfg.LinkThreshold:
		d.Action = lead.ActionLink
		d.Reason = fmt.Sprintf("related follow-up: %.2f similarity within %d hours", score, e.cfg.LinkWindowHours)
		d.ParentLeadID = mostRecent.LeadID

	default:
		d.Action = lead.ActionProcess
		d.Reason = fmt.Sprintf("repeat contact, distinct request (%.2f similarity)", score)
	}

	return d
}

// minutesSince returns whole minutes between the entry timestamp and
// now. An unparsable timestamp yields a gap just past the link window
// so a broken record can never trigger a flag or link.
func (e *Engine) minutesSince(ctx context.Context, receivedAt string) int {
	t, err := time.Parse(time.RFC3339, receivedAt)
	if err != nil {
		slog.WarnContext(ctx, "unparsable history timestamp", "received_at", receivedAt)
		return e.cfg.LinkWindowHours*60 + 60
	}
	minutes := int(e.now().Sub(t).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return minutes
}
