// Package dedup decides what to do with a lead that resembles earlier
// submissions from the same contact.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"leadbase/internal/index"
)

// Similarity scores how close two messages are, using embeddings when
// the provider is reachable and a keyword overlap fallback when not.
type Similarity struct {
	embedder index.Embedder
	timeout  time.Duration
}

func NewSimilarity(embedder index.Embedder, timeout time.Duration) *Similarity {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Similarity{embedder: embedder, timeout: timeout}
}

// MessageSimilarity returns a score in [0, 1]. Either message being
// empty scores 0. Embedding failures degrade to word overlap rather
// than failing the caller's decision.
func (s *Similarity) MessageSimilarity(ctx context.Context, a, b string) (float64, error) {
	a = index.Normalize(a)
	b = index.Normalize(b)
	if a == "" || b == "" {
		return 0, nil
	}
	if a == b {
		return 1, nil
	}

	va, err := s.embed(ctx, a)
	if err != nil {
		slog.WarnContext(ctx, "similarity degraded to word overlap", "error", err)
		return wordOverlap(a, b), nil
	}
	vb, err := s.embed(ctx, b)
	if err != nil {
		slog.WarnContext(ctx, "similarity degraded to word overlap", "error", err)
		return wordOverlap(a, b), nil
	}

	return index.ClampScore(index.Cosine(va, vb)), nil
}

func (s *Similarity) embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.embedder.Embed(embedCtx, text)
}

// wordOverlap is the Jaccard similarity of the two word sets.
func wordOverlap(a, b string) float64 {
	wa := strings.Fields(a)
	wb := strings.Fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}

	union := make(map[string]bool, len(wa)+len(wb))
	for _, w := range wa {
		union[w] = true
	}
	intersection := 0
	for _, w := range wb {
		if set[w] {
			set[w] = false
			intersection++
		}
		union[w] = true
	}

	return index.ClampScore(float64(intersection) / float64(len(union)))
}
