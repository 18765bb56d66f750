package index

import (
	"context"
	"sort"
	"sync"

	"leadbase/internal/lead"
)

// Memory is the in-memory index used in tests and local development. A
// single lock serializes all mutations, which trivially satisfies the
// per-lead-id write ordering the contract requires.
type Memory struct {
	embedder Embedder
	model    string

	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemory(embedder Embedder) *Memory {
	return &Memory{
		embedder: embedder,
		model:    "in-memory",
		records:  make(map[string]*Record),
	}
}

func (m *Memory) Add(ctx context.Context, l *lead.Lead) (*Record, error) {
	rec, err := m.build(ctx, l)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.records[l.ID] = rec
	m.mu.Unlock()
	return rec, nil
}

func (m *Memory) Update(ctx context.Context, l *lead.Lead) (*Record, error) {
	if _, err := m.Remove(ctx, l.ID); err != nil {
		return nil, err
	}
	return m.Add(ctx, l)
}

func (m *Memory) FindSimilar(ctx context.Context, l *lead.Lead, threshold float64, limit int) ([]Result, error) {
	text := Normalize(PrepareText(l))
	if text == "" {
		return nil, &EmbeddingError{Err: ErrEmptyText}
	}
	query, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	m.mu.RLock()
	results := make([]Result, 0, len(m.records))
	for _, rec := range m.records {
		score := ClampScore(Cosine(query, rec.Vector))
		if score >= threshold {
			results = append(results, Result{LeadID: rec.LeadID, Score: score, Metadata: rec.Metadata})
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) Remove(_ context.Context, leadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[leadID]; !ok {
		return false, nil
	}
	delete(m.records, leadID)
	return true, nil
}

func (m *Memory) HealthCheck(ctx context.Context) bool {
	_, err := m.embedder.Embed(ctx, "health check")
	return err == nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *Memory) build(ctx context.Context, l *lead.Lead) (*Record, error) {
	text := Normalize(PrepareText(l))
	if text == "" {
		return nil, &EmbeddingError{Err: ErrEmptyText}
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	hash := ContentHash(text)
	return &Record{
		LeadID:      l.ID,
		Vector:      vec,
		Model:       m.model,
		ContentHash: hash,
		Metadata:    MetadataFor(l, hash),
	}, nil
}
