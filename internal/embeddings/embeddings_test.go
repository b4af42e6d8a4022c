package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/config"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i] * b[i])
	}
	return sum
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"bathroom renovation tiles"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"Bathroom renovation, tiles!"})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0], "case and punctuation do not matter")
	assert.Len(t, first[0], 64)
	assert.InDelta(t, 1.0, dot(first[0], first[0]), 1e-5)
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(256)
	vecs, err := e.Embed(context.Background(), []string{
		"picked tiles for the bathroom renovation",
		"bathroom renovation budget",
		"called mom about the birthday dinner",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestHashEmbedderEmptyText(t *testing.T) {
	vecs, err := NewHashEmbedder(8).Embed(context.Background(), []string{"  "})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[0]), 1e-6)
}

func TestNewFallsBackToHash(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider = config.ProviderNone
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Name())

	cfg.Provider = config.ProviderOpenAI
	t.Setenv("OPENAI_API_KEY", "")
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestToChromemFunc(t *testing.T) {
	fn := ToChromemFunc(NewHashEmbedder(16))
	vec, err := fn(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func TestOllamaEmbedderBatches(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultOllamaModel, req.Model)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2, 0.3})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("", 3, srv.URL)
	vecs, err := e.Embed(context.Background(), []string{"pick up dry cleaning", "call the plumber"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1, requests)

	wrong := NewOllamaEmbedder("", 768, srv.URL)
	_, err = wrong.Embed(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "expects 768")
}
