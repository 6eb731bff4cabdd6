// Package search combines dense vector retrieval with BM25 full-text search
// using Reciprocal Rank Fusion, with an optional rerank stage.
package search

// Result is one hybrid search hit.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Path       string  `json:"path"`
	Filename   string  `json:"filename"`
	MediaType  string  `json:"media_type"`
	Score      float64 `json:"score"`

	// VectorScore and BM25Score are the per-source scores, present only when
	// the hit appeared in that source's list.
	VectorScore *float64 `json:"vector_score,omitempty"`
	BM25Score   *float64 `json:"bm25_score,omitempty"`

	// RerankScore is set when the rerank stage ran.
	RerankScore *float64 `json:"rerank_score,omitempty"`

	// StartTime and EndTime are playback positions for audio and video chunks.
	StartTime *float64 `json:"start_time,omitempty"`
	EndTime   *float64 `json:"end_time,omitempty"`
}

// Options tunes one search call.
type Options struct {
	// Limit is the maximum number of results. Default 10.
	Limit int
	// MediaTypes restricts dense results to the given media types.
	MediaTypes []string
	// PathPrefix restricts dense results to paths under the prefix.
	PathPrefix string
	// Rerank enables the rerank stage for this query.
	Rerank bool
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}
