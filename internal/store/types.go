// Package store provides the two persistence layers of loclens: a SQLite
// lexical store (documents, FTS5 chunks, transcripts) and an HNSW vector
// store (chunk embeddings and image description embeddings).
package store

import (
	"fmt"
	"time"
)

// Document is a row in the documents table.
type Document struct {
	ID              string
	ContentHash     string
	Path            string
	Filename        string
	Extension       string
	MediaType       string
	Size            int64
	CreatedAt       time.Time
	ModifiedAt      time.Time
	IndexedAt       time.Time
	IsDeleted       bool
	DeletedAt       *time.Time
	DurationSeconds *float64
	Width           *int
	Height          *int
}

// Transcript is a speech-to-text result for an audio or video document.
type Transcript struct {
	ID              string
	DocumentID      string
	FullText        string
	Language        string
	DurationSeconds float64
	WordCount       int
}

// FTSChunk is a row in the chunks_fts full-text index.
type FTSChunk struct {
	ChunkID    string
	DocumentID string
	Text       string
	Path       string
	Filename   string
}

// BM25Result is one lexical search hit. Score is abs(bm25()), so higher
// means more relevant.
type BM25Result struct {
	ChunkID    string
	DocumentID string
	Text       string
	Path       string
	Filename   string
	Score      float64
}

// ChunkRecord is the payload stored alongside a chunk embedding.
type ChunkRecord struct {
	ChunkID    string
	DocumentID string
	Text       string
	Path       string
	Filename   string
	MediaType  string
	ChunkIndex int
	StartTime  *float64
	EndTime    *float64
}

// ImageRecord is the payload stored alongside an image description embedding.
type ImageRecord struct {
	ID          string
	DocumentID  string
	Description string
	OCRText     string
	Path        string
	Filename    string
}

// ChunkHit is a dense search hit from the chunks table.
type ChunkHit struct {
	ChunkRecord
	Distance float32
	Score    float32
}

// ImageHit is a dense search hit from the image descriptions table.
type ImageHit struct {
	ImageRecord
	Distance float32
	Score    float32
}

// Filter restricts dense search results. Zero value matches everything.
type Filter struct {
	// MediaTypes keeps only hits whose media type is in the set.
	MediaTypes []string
	// PathPrefix keeps only hits whose path starts with the prefix.
	PathPrefix string
	// ExcludeDocumentID drops hits from one document, used by similar-document
	// search to exclude the query document itself.
	ExcludeDocumentID string
}

// Matches reports whether a chunk row passes the filter.
func (f *Filter) Matches(mediaType, path, documentID string) bool {
	if f == nil {
		return true
	}
	if len(f.MediaTypes) > 0 {
		ok := false
		for _, mt := range f.MediaTypes {
			if mt == mediaType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.PathPrefix != "" && !hasPrefix(path, f.PathPrefix) {
		return false
	}
	if f.ExcludeDocumentID != "" && documentID == f.ExcludeDocumentID {
		return false
	}
	return true
}

// AllowsImages reports whether image hits pass the media type filter.
func (f *Filter) AllowsImages() bool {
	if f == nil || len(f.MediaTypes) == 0 {
		return true
	}
	for _, mt := range f.MediaTypes {
		if mt == "image" {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// VectorConfig configures the HNSW vector store.
type VectorConfig struct {
	// Dimensions is the embedding dimensionality.
	Dimensions int
	// M is the HNSW max connections per node (default 16).
	M int
	// EfSearch is the HNSW search expansion factor (default 20).
	EfSearch int
}

// ErrDimensionMismatch is returned when a vector's dimensionality does not
// match the store configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Stats summarizes the indexed corpus.
type Stats struct {
	TotalDocuments int
	ByMediaType    map[string]int
	TotalChunks    int
	LastIndexedAt  *time.Time
}

// DirectoryCount is one entry of the indexed-directory summary: a path
// prefix and how many live documents sit under it.
type DirectoryCount struct {
	Path  string
	Count int
}
