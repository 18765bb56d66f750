package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "leadbase/internal/adapter/weaviate"
	"leadbase/internal/index"
	"leadbase/internal/lead"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	assert.NoError(t, err)
	return client, ts
}

func meta(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path == "/v1/meta" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"version": "1.19.0"}`))
		return true
	}
	return false
}

func indexLead(t *testing.T) *lead.Lead {
	t.Helper()
	l, err := lead.New("my furnace is broken", lead.Contact{Email: "jane@example.com"}, "web", nil)
	require.NoError(t, err)
	return l
}

func TestIndex_Add(t *testing.T) {
	l := indexLead(t)

	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		if r.Method == "HEAD" {
			// Existence check before create: not there yet.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/v1/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, l.ID, body["id"])
		props := body["properties"].(map[string]interface{})
		assert.Equal(t, "my furnace is broken", props["message"])
		assert.Equal(t, "jane@example.com", props["contactEmail"])
		assert.NotEmpty(t, props["textHash"])

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": l.ID})
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{0.1, 0.2}}, "test-model", time.Second)

	rec, err := idx.Add(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, l.ID, rec.LeadID)
	assert.Equal(t, "test-model", rec.Model)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Vector)
}

func TestIndex_AddEmbeddingFailure(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		meta(w, r)
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{err: assert.AnError}, "test-model", time.Second)

	_, err := idx.Add(context.Background(), indexLead(t))

	var ee *index.EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestIndex_Remove(t *testing.T) {
	deleted := false
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		switch r.Method {
		case "HEAD":
			w.WriteHeader(http.StatusNoContent)
		case "DELETE":
			deleted = true
			assert.True(t, strings.HasPrefix(r.URL.Path, "/v1/objects/Lead/"))
			w.WriteHeader(http.StatusNoContent)
		}
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{1}}, "test-model", time.Second)

	removed, err := idx.Remove(context.Background(), "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, deleted)
}

func TestIndex_RemoveAbsent(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		assert.Equal(t, "HEAD", r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{1}}, "test-model", time.Second)

	removed, err := idx.Remove(context.Background(), "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIndex_FindSimilar(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"Lead": []interface{}{
						map[string]interface{}{
							"leadId":       "close-match",
							"message":      "furnace broken",
							"contactEmail": "jane@example.com",
							"receivedAt":   "2026-08-30T10:00:00Z",
							"_additional":  map[string]interface{}{"distance": 0.05},
						},
						map[string]interface{}{
							"leadId":      "far-match",
							"message":     "unrelated request",
							"_additional": map[string]interface{}{"distance": 0.6},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{0.1, 0.2}}, "test-model", time.Second)

	results, err := idx.FindSimilar(context.Background(), indexLead(t), 0.85, 5)
	require.NoError(t, err)

	// Only the close match clears the threshold: score = 1 - distance.
	require.Len(t, results, 1)
	assert.Equal(t, "close-match", results[0].LeadID)
	assert.InDelta(t, 0.95, results[0].Score, 0.001)
	assert.Equal(t, "jane@example.com", results[0].Metadata.ContactEmail)
}

func TestIndex_Count(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"Lead": []interface{}{
						map[string]interface{}{
							"meta": map[string]interface{}{"count": 42.0},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{1}}, "test-model", time.Second)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, count)
}

func TestIndex_HealthCheck(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"Get": map[string]interface{}{"Lead": []interface{}{}}},
		})
	})
	defer ts.Close()

	idx := adapter.NewIndex(client, &stubEmbedder{vector: []float32{1}}, "test-model", time.Second)
	assert.True(t, idx.HealthCheck(context.Background()))

	down := adapter.NewIndex(client, &stubEmbedder{err: assert.AnError}, "test-model", time.Second)
	assert.False(t, down.HealthCheck(context.Background()))
}
