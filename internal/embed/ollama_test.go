package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/tags and /api/embed with canned data.
func fakeOllama(t *testing.T, models []string, dims int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			infos := make([]OllamaModelInfo, len(models))
			for i, m := range models {
				infos[i] = OllamaModelInfo{Name: m}
			}
			_ = json.NewEncoder(w).Encode(OllamaModelListResponse{Models: infos})

		case "/api/embed":
			if failures != nil && failures.Load() > 0 {
				failures.Add(-1)
				http.Error(w, "model busy", http.StatusInternalServerError)
				return
			}
			var req OllamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			count := 1
			if arr, ok := req.Input.([]any); ok {
				count = len(arr)
			}
			embeddings := make([][]float64, count)
			for i := range embeddings {
				vec := make([]float64, dims)
				vec[0] = float64(i + 1)
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(OllamaEmbedResponse{Model: req.Model, Embeddings: embeddings})

		default:
			http.NotFound(w, r)
		}
	}))
}

// =============================================================================
// Model discovery
// =============================================================================

func TestNewOllamaEmbedder_DiscoversModelAndDimensions(t *testing.T) {
	srv := fakeOllama(t, []string{"bge-m3:latest"}, 8, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "bge-m3",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Base-name match resolves to the installed tagged model
	assert.Equal(t, "bge-m3:latest", e.ModelName())
	assert.Equal(t, 8, e.Dimensions())
}

func TestNewOllamaEmbedder_FallbackModel(t *testing.T) {
	srv := fakeOllama(t, []string{"nomic-embed-text:latest"}, 8, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:           srv.URL,
		Model:          "bge-m3",
		FallbackModels: []string{"nomic-embed-text"},
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
}

func TestNewOllamaEmbedder_NoModelAvailable(t *testing.T) {
	srv := fakeOllama(t, []string{"llama3:latest"}, 8, nil)
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:           srv.URL,
		Model:          "bge-m3",
		FallbackModels: []string{"nomic-embed-text"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding model available")
}

// =============================================================================
// Embedding
// =============================================================================

func TestEmbed_NormalizesResult(t *testing.T) {
	srv := fakeOllama(t, []string{"bge-m3"}, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, vec, 4)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestEmbed_EmptyTextReturnsZeroVector(t *testing.T) {
	srv := fakeOllama(t, []string{"bge-m3"}, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   \n ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
}

func TestEmbedBatch_PreservesOrderAndZeroFillsEmpties(t *testing.T) {
	srv := fakeOllama(t, []string{"bge-m3"}, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, BatchSize: 2})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)

	require.Len(t, vecs, 4)
	assert.Equal(t, make([]float32, 4), vecs[1], "empty text becomes zero vector")
	for _, i := range []int{0, 2, 3} {
		assert.NotEqual(t, make([]float32, 4), vecs[i])
	}
}

func TestEmbed_RetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	srv := fakeOllama(t, []string{"bge-m3"}, 4, &failures)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      4,
		MaxRetries:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "retry me")
	assert.NoError(t, err, "two failures then success fits in three attempts")
}

func TestEmbed_Closed(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		SkipHealthCheck: true,
		Dimensions:      4,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

// =============================================================================
// Cache
// =============================================================================

// countingEmbedder counts inner calls for cache hit assertions.
type countingEmbedder struct {
	calls atomic.Int32
	dims  int
}

func (f *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	v := make([]float32, f.dims)
	v[0] = 1
	return v, nil
}

func (f *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *countingEmbedder) Dimensions() int                    { return f.dims }
func (f *countingEmbedder) ModelName() string                  { return "counting" }
func (f *countingEmbedder) Available(ctx context.Context) bool { return true }
func (f *countingEmbedder) Close() error                       { return nil }

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"warm", "cold"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	// One Embed call plus one EmbedBatch call for the single miss
	assert.Equal(t, int32(2), inner.calls.Load())
}
