package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/loclens/loclens/internal/embed"
	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/store"
)

// Engine runs hybrid queries over the lexical and vector stores.
type Engine struct {
	lexical  *store.LexicalStore
	vectors  *store.VectorStore
	embedder embed.Embedder
	reranker *Reranker
	rrfK     int
}

// NewEngine creates a search engine. rrfK <= 0 falls back to the default.
func NewEngine(lexical *store.LexicalStore, vectors *store.VectorStore, embedder embed.Embedder, rrfK int) *Engine {
	if rrfK <= 0 {
		rrfK = DefaultRRFConstant
	}
	return &Engine{
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		reranker: NewReranker(embedder),
		rrfK:     rrfK,
	}
}

// Search runs a hybrid query: dense retrieval over chunk and image embeddings
// plus BM25 over the FTS index, fused with RRF. Both sources over-fetch three
// times the limit so fusion has enough overlap to work with.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, lenserrors.ValidationError("query must not be empty", nil)
	}
	opts = opts.withDefaults()
	fetchLimit := opts.Limit * 3

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := &store.Filter{
		MediaTypes: opts.MediaTypes,
		PathPrefix: opts.PathPrefix,
	}

	dense, err := e.denseSearch(ctx, queryVec, fetchLimit, filter)
	if err != nil {
		return nil, err
	}

	bm25Hits, err := e.lexical.SearchChunks(ctx, query, fetchLimit)
	if err != nil {
		return nil, err
	}
	bm25 := e.bm25Results(bm25Hits, filter)

	fused := fuse(dense, bm25, e.rrfK)
	normalizeScores(fused)

	var results []Result
	if opts.Rerank && e.reranker != nil {
		results = e.reranker.Rerank(ctx, query, fused, opts.Limit)
	} else {
		results = truncate(fused, opts.Limit)
	}

	slog.Info("hybrid search",
		slog.String("query", query),
		slog.Int("dense", len(dense)),
		slog.Int("bm25", len(bm25)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", opts.Rerank))

	return results, nil
}

// denseSearch queries both vector tables and merges the hits by score.
func (e *Engine) denseSearch(ctx context.Context, queryVec []float32, limit int, filter *store.Filter) ([]Result, error) {
	chunkHits, err := e.vectors.SearchChunks(ctx, queryVec, limit, filter)
	if err != nil {
		return nil, err
	}
	imageHits, err := e.vectors.SearchImages(ctx, queryVec, limit, filter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(chunkHits)+len(imageHits))
	for _, hit := range chunkHits {
		score := float64(hit.Score)
		results = append(results, Result{
			ChunkID:     hit.ChunkID,
			DocumentID:  hit.DocumentID,
			Text:        hit.Text,
			Path:        hit.Path,
			Filename:    hit.Filename,
			MediaType:   hit.MediaType,
			Score:       score,
			VectorScore: &score,
			StartTime:   hit.StartTime,
			EndTime:     hit.EndTime,
		})
	}
	for _, hit := range imageHits {
		score := float64(hit.Score)
		results = append(results, Result{
			ChunkID:     hit.ID,
			DocumentID:  hit.DocumentID,
			Text:        imageText(hit.ImageRecord),
			Path:        hit.Path,
			Filename:    hit.Filename,
			MediaType:   "image",
			Score:       score,
			VectorScore: &score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// imageText renders an image hit's description and OCR text as one snippet.
func imageText(rec store.ImageRecord) string {
	var parts []string
	if rec.Description != "" {
		parts = append(parts, rec.Description)
	}
	if rec.OCRText != "" {
		parts = append(parts, "[OCR] "+rec.OCRText)
	}
	if len(parts) == 0 {
		return "No description"
	}
	return strings.Join(parts, "\n")
}

// bm25Results converts lexical hits, hydrating media type and playback times
// from the vector store's row payloads when the chunk is known there. The
// FTS index carries no media type, so the dense filter is re-applied here to
// keep filtered searches consistent across both sources.
func (e *Engine) bm25Results(hits []store.BM25Result, filter *store.Filter) []Result {
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		score := hit.Score
		result := Result{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			Text:       hit.Text,
			Path:       hit.Path,
			Filename:   hit.Filename,
			MediaType:  defaultMediaType,
			BM25Score:  &score,
		}
		if rec, ok := e.vectors.GetChunk(hit.ChunkID); ok {
			result.MediaType = rec.MediaType
			result.StartTime = rec.StartTime
			result.EndTime = rec.EndTime
		}
		if !filter.Matches(result.MediaType, result.Path, result.DocumentID) {
			continue
		}
		results = append(results, result)
	}
	return results
}

const defaultMediaType = "document"

// FindSimilar returns documents whose content is close to the given one. The
// query vector is the stored embedding of the document's first chunk, so no
// model call is needed; the document itself is excluded from the results.
func (e *Engine) FindSimilar(ctx context.Context, documentID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	first, ok := e.vectors.FirstChunkByDocument(documentID)
	if !ok {
		return nil, lenserrors.NotFoundError(
			fmt.Sprintf("document has no indexed chunks: %s", documentID))
	}

	queryVec, ok := e.vectors.ChunkVector(first.ChunkID)
	if !ok {
		return nil, lenserrors.NotFoundError(
			fmt.Sprintf("document has no stored vectors: %s", documentID))
	}

	hits, err := e.vectors.SearchChunks(ctx, queryVec, limit,
		&store.Filter{ExcludeDocumentID: documentID})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.Score)
		results = append(results, Result{
			ChunkID:     hit.ChunkID,
			DocumentID:  hit.DocumentID,
			Text:        hit.Text,
			Path:        hit.Path,
			Filename:    hit.Filename,
			MediaType:   hit.MediaType,
			Score:       score,
			VectorScore: &score,
			StartTime:   hit.StartTime,
			EndTime:     hit.EndTime,
		})
	}
	return results, nil
}

// Suggest returns filename completions for a prefix.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.lexical.SuggestFilenames(ctx, prefix, limit)
}
