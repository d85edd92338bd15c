package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbagent/internal/adapter/store"
	"kbagent/internal/domain"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var batches [][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer ollama", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		batches = append(batches, req.Input)

		// Reply out of order to exercise index mapping.
		resp := embeddingResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	e := NewOllamaEmbedder(Options{Model: "nomic-embed-text", BaseURL: ts.URL, BatchSize: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, batches)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}}, vecs)
	assert.Equal(t, 768, e.Dimension())
}

func TestOpenAIEmbedder_LearnsDimension(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer ts.Close()

	e := NewOpenAICompatibleEmbedder(Options{Model: "custom", BaseURL: ts.URL})
	assert.Zero(t, e.Dimension())

	_, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimension())
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"status", http.StatusInternalServerError, `oops`, "status 500"},
		{"api error", http.StatusOK, `{"error":{"message":"model not found"}}`, "model not found"},
		{"bad json", http.StatusOK, `not json`, "parse response"},
		{"missing vector", http.StatusOK, `{"data":[]}`, "no embedding returned"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			e := NewOllamaEmbedder(Options{Model: "m", BaseURL: ts.URL})
			_, err := e.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEmbedding)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenAIEmbedder_Cancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewOllamaEmbedder(Options{Model: "m", BaseURL: ts.URL})
	_, err := e.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	t.Setenv("KB_TEST_MISSING_KEY", "")
	_, err := NewOpenAIEmbedder("KB_TEST_MISSING_KEY", Options{Model: "text-embedding-3-small"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	t.Setenv("KB_TEST_KEY", "sk-test")
	e, err := NewOpenAIEmbedder("KB_TEST_KEY", Options{Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{
		"honey bees pollinate flowers",
		"Bees pollinate flowers and make honey",
		"quarterly tax filing deadlines",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
	assert.InDelta(t, 1.0, store.CosineSimilarity(vecs[0], vecs[0]), 1e-6)

	near := store.CosineSimilarity(vecs[0], vecs[1])
	far := store.CosineSimilarity(vecs[0], vecs[2])
	assert.Greater(t, near, far)

	for _, x := range vecs[3] {
		assert.Zero(t, x)
	}

	again, err := e.Embed(context.Background(), []string{"honey bees pollinate flowers"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])
}
