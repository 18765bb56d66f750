// Package pipeline orchestrates the enrichment of a raw lead: similarity
// search, duplicate decision, AI analysis, indexing and CRM sync.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadbase/internal/dedup"
	"leadbase/internal/index"
	"leadbase/internal/lead"
)

// Repository is the slice of the lead store the pipeline writes to.
type Repository interface {
	Update(ctx context.Context, l *lead.Lead) error
	UpdateStatus(ctx context.Context, id string, status lead.Status) error
}

// Analyzer extracts structured analysis from a lead message.
type Analyzer interface {
	Analyze(ctx context.Context, l *lead.Lead) (*lead.AIAnalysis, error)
}

// Syncer pushes an enriched lead to the CRM. A nil Syncer disables sync.
type Syncer interface {
	Sync(ctx context.Context, l *lead.Lead) *lead.SyncResult
}

// Options tunes the pipeline stages.
type Options struct {
	SimilarityThreshold     float64
	MaxSimilarLeads         int
	ContactHistoryThreshold float64
	ContactHistoryLimit     int
	AnalysisTimeout         time.Duration
	SyncTimeout             time.Duration
}

func (o *Options) defaults() {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.85
	}
	if o.MaxSimilarLeads <= 0 {
		o.MaxSimilarLeads = 5
	}
	if o.ContactHistoryThreshold <= 0 {
		o.ContactHistoryThreshold = 0.1
	}
	if o.ContactHistoryLimit <= 0 {
		o.ContactHistoryLimit = 50
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 30 * time.Second
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 30 * time.Second
	}
}

// Service runs a lead through the full enrichment pipeline.
type Service struct {
	repo     Repository
	idx      index.Index
	engine   *dedup.Engine
	analyzer Analyzer
	syncer   Syncer
	opts     Options
}

func NewService(repo Repository, idx index.Index, engine *dedup.Engine, analyzer Analyzer, syncer Syncer, opts Options) *Service {
	opts.defaults()
	return &Service{
		repo:     repo,
		idx:      idx,
		engine:   engine,
		analyzer: analyzer,
		syncer:   syncer,
		opts:     opts,
	}
}

// Process takes a stored raw lead through processing, enrichment,
// indexing and sync. Only an indexing failure fails the lead; every
// other stage degrades and the lead keeps moving. A CRM failure after
// enrichment leaves the lead enriched with the error recorded.
func (s *Service) Process(ctx context.Context, l *lead.Lead) error {
	slog.InfoContext(ctx, "processing lead", "lead_id", l.ID, "source", l.Source)

	l.MarkProcessing()
	if err := s.repo.UpdateStatus(ctx, l.ID, lead.StatusProcessing); err != nil {
		slog.WarnContext(ctx, "status update failed", "lead_id", l.ID, "error", err)
	}

	s.findSimilar(ctx, l)
	s.decide(ctx, l)
	s.analyze(ctx, l)

	if _, err := s.idx.Add(ctx, l); err != nil {
		slog.ErrorContext(ctx, "indexing failed", "lead_id", l.ID, "error", err)
		l.MarkFailed(fmt.Sprintf("indexing: %v", err))
		if uerr := s.repo.Update(ctx, l); uerr != nil {
			slog.ErrorContext(ctx, "persisting failed lead", "lead_id", l.ID, "error", uerr)
		}
		return err
	}

	if err := s.repo.Update(ctx, l); err != nil {
		slog.ErrorContext(ctx, "persisting enriched lead", "lead_id", l.ID, "error", err)
		return err
	}

	s.sync(ctx, l)

	slog.InfoContext(ctx, "lead processed",
		"lead_id", l.ID,
		"status", l.Status,
		"action", l.DuplicateAction,
		"similar_count", len(l.SimilarLeads))
	return nil
}

// findSimilar records the ids of semantically close leads. Failure here
// is logged and the lead proceeds with no similar leads.
func (s *Service) findSimilar(ctx context.Context, l *lead.Lead) {
	results, err := s.idx.FindSimilar(ctx, l, s.opts.SimilarityThreshold, s.opts.MaxSimilarLeads)
	if err != nil {
		slog.WarnContext(ctx, "similarity search degraded", "lead_id", l.ID, "error", err)
		return
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.LeadID != l.ID {
			ids = append(ids, r.LeadID)
		}
	}
	l.SimilarLeads = ids
}

// decide gathers the contact's prior submissions with a wide search and
// runs the duplicate decision against them.
func (s *Service) decide(ctx context.Context, l *lead.Lead) {
	var history []dedup.HistoryEntry

	results, err := s.idx.FindSimilar(ctx, l, s.opts.ContactHistoryThreshold, s.opts.ContactHistoryLimit)
	if err != nil {
		slog.WarnContext(ctx, "contact history search degraded", "lead_id", l.ID, "error", err)
	} else {
		for _, r := range results {
			if r.LeadID == l.ID {
				continue
			}
			if !lead.SameContact(l.Contact, r.Metadata.Contact()) {
				continue
			}
			history = append(history, dedup.HistoryEntry{
				LeadID:     r.LeadID,
				Message:    r.Metadata.Message,
				ReceivedAt: r.Metadata.ReceivedAt,
			})
		}
	}

	d := s.engine.Decide(ctx, l, history)
	l.ApplyDecision(d)
	slog.InfoContext(ctx, "duplicate decision",
		"lead_id", l.ID,
		"action", d.Action,
		"reason", d.Reason,
		"sequence", d.CustomerSequence)
}

// analyze enriches the lead, falling back to keyword heuristics when
// the provider fails or times out.
func (s *Service) analyze(ctx context.Context, l *lead.Lead) {
	analysisCtx, cancel := context.WithTimeout(ctx, s.opts.AnalysisTimeout)
	defer cancel()

	a, err := s.analyzer.Analyze(analysisCtx, l)
	if err != nil {
		slog.WarnContext(ctx, "analysis degraded to keyword fallback", "lead_id", l.ID, "error", err)
		a = FallbackAnalysis(l)
	}
	l.MarkEnriched(a)
}

// sync pushes to the CRM when one is configured. Failure never rolls
// the lead back; the error is recorded and the lead stays enriched.
func (s *Service) sync(ctx context.Context, l *lead.Lead) {
	if s.syncer == nil {
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.opts.SyncTimeout)
	defer cancel()

	res := s.syncer.Sync(syncCtx, l)
	if res.Status != "synced" {
		slog.WarnContext(ctx, "crm sync failed", "lead_id", l.ID, "error", res.ErrorMessage)
		l.RecordError(fmt.Sprintf("crm sync: %s", res.ErrorMessage))
	} else {
		l.MarkSynced(res.ExternalID)
	}

	if err := s.repo.Update(ctx, l); err != nil {
		slog.ErrorContext(ctx, "persisting sync outcome", "lead_id", l.ID, "error", err)
	}
}
