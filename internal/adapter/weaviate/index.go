package weaviate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"leadbase/internal/index"
	"leadbase/internal/lead"
	"leadbase/internal/vector"
)

// Index is the Weaviate-backed similarity index. Objects are stored under
// the lead's own UUID, which keeps the one-record-per-lead invariant
// enforceable with a delete-then-create.
type Index struct {
	client       *weaviate.Client
	embedder     index.Embedder
	model        string
	embedTimeout time.Duration
	locks        keyedLocks
}

func NewIndex(client *weaviate.Client, embedder index.Embedder, model string, embedTimeout time.Duration) *Index {
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	return &Index{
		client:       client,
		embedder:     embedder,
		model:        model,
		embedTimeout: embedTimeout,
	}
}

// keyedLocks serializes mutations per lead id so an update racing a delete
// cannot interleave the remove-then-add halves.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) acquire(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (ix *Index) Add(ctx context.Context, l *lead.Lead) (*index.Record, error) {
	unlock := ix.locks.acquire(l.ID)
	defer unlock()
	return ix.put(ctx, l)
}

// Update is a remove-then-add under the lead's lock; the vector and
// metadata are replaced wholesale.
func (ix *Index) Update(ctx context.Context, l *lead.Lead) (*index.Record, error) {
	unlock := ix.locks.acquire(l.ID)
	defer unlock()

	if _, err := ix.remove(ctx, l.ID); err != nil {
		return nil, err
	}
	return ix.put(ctx, l)
}

func (ix *Index) Remove(ctx context.Context, leadID string) (bool, error) {
	unlock := ix.locks.acquire(leadID)
	defer unlock()
	return ix.remove(ctx, leadID)
}

func (ix *Index) put(ctx context.Context, l *lead.Lead) (*index.Record, error) {
	text := index.Normalize(index.PrepareText(l))
	if text == "" {
		return nil, &index.EmbeddingError{Err: index.ErrEmptyText}
	}

	vec, err := ix.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hash := index.ContentHash(text)
	meta := index.MetadataFor(l, hash)

	// Replace any existing record for this id before creating.
	if _, err := ix.remove(ctx, l.ID); err != nil {
		return nil, err
	}

	_, err = ix.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithID(l.ID).
		WithProperties(map[string]interface{}{
			"leadId":       l.ID,
			"message":      meta.Message,
			"contactName":  meta.ContactName,
			"contactEmail": meta.ContactEmail,
			"contactPhone": meta.ContactPhone,
			"company":      meta.Company,
			"source":       meta.Source,
			"status":       meta.Status,
			"intent":       meta.Intent,
			"urgency":      meta.Urgency,
			"qualityScore": meta.QualityScore,
			"receivedAt":   meta.ReceivedAt,
			"textHash":     hash,
		}).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return nil, &index.IndexError{Op: "add", Err: err}
	}

	return &index.Record{
		LeadID:      l.ID,
		Vector:      vec,
		Model:       ix.model,
		ContentHash: hash,
		Metadata:    meta,
	}, nil
}

func (ix *Index) remove(ctx context.Context, leadID string) (bool, error) {
	exists, err := ix.client.Data().Checker().
		WithClassName(vector.ClassName).
		WithID(leadID).
		Do(ctx)
	if err != nil {
		return false, &index.IndexError{Op: "check", Err: err}
	}
	if !exists {
		return false, nil
	}

	err = ix.client.Data().Deleter().
		WithClassName(vector.ClassName).
		WithID(leadID).
		Do(ctx)
	if err != nil {
		return false, &index.IndexError{Op: "remove", Err: err}
	}
	return true, nil
}

func (ix *Index) FindSimilar(ctx context.Context, l *lead.Lead, threshold float64, limit int) ([]index.Result, error) {
	text := index.Normalize(index.PrepareText(l))
	if text == "" {
		return nil, &index.EmbeddingError{Err: index.ErrEmptyText}
	}
	vec, err := ix.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	nearVector := ix.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "leadId"},
		{Name: "message"},
		{Name: "contactName"},
		{Name: "contactEmail"},
		{Name: "contactPhone"},
		{Name: "company"},
		{Name: "source"},
		{Name: "status"},
		{Name: "intent"},
		{Name: "urgency"},
		{Name: "qualityScore"},
		{Name: "receivedAt"},
		{Name: "textHash"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	if limit <= 0 {
		limit = 10
	}

	res, err := ix.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, &index.IndexError{Op: "search", Err: err}
	}
	if len(res.Errors) > 0 {
		return nil, &index.IndexError{Op: "search", Err: fmt.Errorf("graphql error: %v", res.Errors)}
	}

	var results []index.Result
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	hits, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return results, nil
	}

	for _, h := range hits {
		props, ok := h.(map[string]interface{})
		if !ok {
			continue
		}

		r := index.Result{Metadata: metadataFromProps(props)}
		if id, ok := props["leadId"].(string); ok {
			r.LeadID = id
		}

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				r.Score = index.ClampScore(1.0 - distance)
			}
		}

		if r.Score >= threshold {
			results = append(results, r)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// HealthCheck verifies the embedding provider responds and a trivial
// round-trip query against the index succeeds.
func (ix *Index) HealthCheck(ctx context.Context) bool {
	vec, err := ix.embed(ctx, "health check")
	if err != nil || len(vec) == 0 {
		return false
	}

	nearVector := ix.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	res, err := ix.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(1).
		WithFields(graphql.Field{Name: "leadId"}).
		Do(ctx)
	if err != nil {
		return false
	}
	return len(res.Errors) == 0
}

func (ix *Index) Count(ctx context.Context) (int, error) {
	res, err := ix.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, &index.IndexError{Op: "count", Err: err}
	}
	if len(res.Errors) > 0 {
		return 0, &index.IndexError{Op: "count", Err: fmt.Errorf("graphql error: %v", res.Errors)}
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// embed wraps the provider call with a timeout and translates a deadline
// into a typed error instead of surfacing a hung request upstream.
func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, ix.embedTimeout)
	defer cancel()

	vec, err := ix.embedder.Embed(embedCtx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &index.EmbeddingError{Err: fmt.Errorf("embedding timed out after %s", ix.embedTimeout)}
		}
		return nil, &index.EmbeddingError{Err: err}
	}
	if len(vec) == 0 {
		return nil, &index.EmbeddingError{Err: fmt.Errorf("empty embedding received")}
	}
	return vec, nil
}

func metadataFromProps(props map[string]interface{}) index.Metadata {
	m := index.Metadata{}
	if v, ok := props["message"].(string); ok {
		m.Message = v
	}
	if v, ok := props["contactName"].(string); ok {
		m.ContactName = v
	}
	if v, ok := props["contactEmail"].(string); ok {
		m.ContactEmail = v
	}
	if v, ok := props["contactPhone"].(string); ok {
		m.ContactPhone = v
	}
	if v, ok := props["company"].(string); ok {
		m.Company = v
	}
	if v, ok := props["source"].(string); ok {
		m.Source = v
	}
	if v, ok := props["status"].(string); ok {
		m.Status = v
	}
	if v, ok := props["intent"].(string); ok {
		m.Intent = v
	}
	if v, ok := props["urgency"].(string); ok {
		m.Urgency = v
	}
	if v, ok := props["qualityScore"].(float64); ok {
		m.QualityScore = int(v)
	}
	if v, ok := props["receivedAt"].(string); ok {
		m.ReceivedAt = v
	}
	if v, ok := props["textHash"].(string); ok {
		m.ContentHash = v
	}
	return m
}
