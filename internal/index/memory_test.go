package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbase/internal/lead"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func memLead(t *testing.T, message string) *lead.Lead {
	t.Helper()
	l, err := lead.New(message, lead.Contact{}, "web", nil)
	require.NoError(t, err)
	return l
}

func TestMemoryAddAndFind(t *testing.T) {
	m := NewMemory(&fixedEmbedder{})
	ctx := context.Background()

	l := memLead(t, "my furnace is broken")
	rec, err := m.Add(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, l.ID, rec.LeadID)
	assert.NotEmpty(t, rec.ContentHash)

	results, err := m.FindSimilar(ctx, memLead(t, "my furnace is broken"), 0.9, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, l.ID, results[0].LeadID)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func TestMemoryFindRespectsThreshold(t *testing.T) {
	m := NewMemory(&fixedEmbedder{vectors: map[string][]float32{
		"stored text":    {1, 0, 0},
		"unrelated text": {0, 1, 0},
	}})
	ctx := context.Background()

	_, err := m.Add(ctx, memLead(t, "stored text"))
	require.NoError(t, err)

	results, err := m.FindSimilar(ctx, memLead(t, "unrelated text"), 0.5, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryUpdateReplacesRecord(t *testing.T) {
	m := NewMemory(&fixedEmbedder{})
	ctx := context.Background()

	l := memLead(t, "first version of the message")
	_, err := m.Add(ctx, l)
	require.NoError(t, err)

	l.Message = "second version of the message"
	rec, err := m.Update(ctx, l)
	require.NoError(t, err)
	assert.Contains(t, rec.Metadata.Message, "second version")

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryRemove(t *testing.T) {
	m := NewMemory(&fixedEmbedder{})
	ctx := context.Background()

	l := memLead(t, "to be removed")
	_, err := m.Add(ctx, l)
	require.NoError(t, err)

	removed, err := m.Remove(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// Absence is not an error.
	removed, err = m.Remove(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryEmbeddingFailure(t *testing.T) {
	m := NewMemory(&fixedEmbedder{err: errors.New("provider down")})

	_, err := m.Add(context.Background(), memLead(t, "hello"))

	var ee *EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestMemoryHealthCheck(t *testing.T) {
	assert.True(t, NewMemory(&fixedEmbedder{}).HealthCheck(context.Background()))
	assert.False(t, NewMemory(&fixedEmbedder{err: errors.New("down")}).HealthCheck(context.Background()))
}

func TestMemoryConcurrentWrites(t *testing.T) {
	m := NewMemory(&fixedEmbedder{})
	ctx := context.Background()

	l := memLead(t, "contended lead record")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Update(ctx, l)
		}()
	}
	wg.Wait()

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
