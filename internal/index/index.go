// Package index defines the lead similarity index contract: one embedding
// record per lead id, nearest-neighbour search by cosine similarity.
package index

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"leadbase/internal/lead"
)

// MetadataMessageLimit caps the message snapshot stored alongside a vector.
const MetadataMessageLimit = 500

var ErrEmptyText = errors.New("no text to embed")

// EmbeddingError wraps failures to turn lead text into a vector.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError wraps failures of the backing similarity store.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Metadata is the snapshot stored next to a lead's vector. It is what a
// similarity hit can report without a round trip to the lead store.
type Metadata struct {
	Message      string `json:"message"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	Company      string `json:"company,omitempty"`
	Source       string `json:"source"`
	Status       string `json:"status"`
	Intent       string `json:"intent,omitempty"`
	Urgency      string `json:"urgency,omitempty"`
	QualityScore int    `json:"quality_score,omitempty"`
	ReceivedAt   string `json:"received_at"`
	ContentHash  string `json:"content_hash"`
}

// Contact rebuilds enough of a contact from the snapshot for matching.
func (m Metadata) Contact() lead.Contact {
	return lead.Contact{
		FirstName: m.ContactName,
		Email:     m.ContactEmail,
		Phone:     m.ContactPhone,
		Company:   m.Company,
	}
}

// Record is the embedding record owned by the index, at most one per lead id.
type Record struct {
	LeadID      string
	Vector      []float32
	Model       string
	ContentHash string
	Metadata    Metadata
}

type Result struct {
	LeadID   string
	Score    float64
	Metadata Metadata
}

// Index is the similarity index capability. One production implementation
// (Weaviate) and one in-memory fake for tests.
type Index interface {
	Add(ctx context.Context, l *lead.Lead) (*Record, error)
	FindSimilar(ctx context.Context, l *lead.Lead, threshold float64, limit int) ([]Result, error)
	Update(ctx context.Context, l *lead.Lead) (*Record, error)
	Remove(ctx context.Context, leadID string) (bool, error)
	HealthCheck(ctx context.Context) bool
	Count(ctx context.Context) (int, error)
}

// PrepareText concatenates the embeddable parts of a lead with a stable
// separator. Custom fields are visited in sorted key order so the same
// lead always yields the same text.
func PrepareText(l *lead.Lead) string {
	parts := []string{l.Message}

	if name := l.Contact.FullName(); name != "" {
		parts = append(parts, "Contact: "+name)
	}
	if l.Contact.Company != "" {
		parts = append(parts, "Company: "+l.Contact.Company)
	}

	keys := make([]string, 0, len(l.CustomFields))
	for k, v := range l.CustomFields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+l.CustomFields[k])
	}

	return strings.Join(parts, " | ")
}

func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ContentHash is a stable hash of normalized text, stored as advisory
// metadata for cheap byte-identical resubmission checks.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum)
}

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero norm or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ClampScore bounds a similarity score to [0,1]. Providers can yield
// slightly out-of-range cosine values due to floating point.
func ClampScore(s float64) float64 {
	return math.Max(0.0, math.Min(1.0, s))
}

// MetadataFor builds the stored snapshot for a lead.
func MetadataFor(l *lead.Lead, contentHash string) Metadata {
	m := Metadata{
		Message:      truncate(l.Message, MetadataMessageLimit),
		ContactName:  l.Contact.FullName(),
		ContactEmail: l.Contact.Email,
		ContactPhone: l.Contact.Phone,
		Company:      l.Contact.Company,
		Source:       l.Source,
		Status:       string(l.Status),
		ReceivedAt:   l.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		ContentHash:  contentHash,
	}
	if l.Analysis != nil {
		m.Intent = l.Analysis.Intent
		m.Urgency = l.Analysis.Urgency
		m.QualityScore = l.Analysis.QualityScore
	}
	return m
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
