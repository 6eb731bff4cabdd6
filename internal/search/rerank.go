package search

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/loclens/loclens/internal/embed"
)

// Rerank mixing weights. The rerank score dominates because it judges the
// actual query-text pair, while the fused score only reflects retrieval rank.
const (
	originalWeight = 0.3
	rerankWeight   = 0.7
)

// Reranker rescores search hits against the query using embedding cosine
// similarity mapped to [0, 1].
type Reranker struct {
	embedder embed.Embedder
}

// NewReranker creates a reranker over an embedder.
func NewReranker(embedder embed.Embedder) *Reranker {
	return &Reranker{embedder: embedder}
}

// Rerank rescores results and returns the top k by the mixed final score.
// Input scores must already be normalized to [0, 1]. When scoring fails the
// original ranking is returned unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, results []Result, topK int) []Result {
	if len(results) == 0 {
		return results
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("rerank skipped, query embedding failed", slog.String("error", err.Error()))
		return truncate(results, topK)
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Text
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("rerank skipped, batch embedding failed", slog.String("error", err.Error()))
		return truncate(results, topK)
	}

	reranked := make([]Result, len(results))
	for i, res := range results {
		// Cosine similarity in [-1, 1] mapped to [0, 1]
		score := (cosineSimilarity(queryVec, vectors[i]) + 1) / 2
		res.RerankScore = &score
		res.Score = originalWeight*res.Score + rerankWeight*score
		reranked[i] = res
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	slog.Info("reranked results", slog.Int("count", len(reranked)))
	return truncate(reranked, topK)
}

func truncate(results []Result, k int) []Result {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
