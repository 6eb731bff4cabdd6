// Package embed generates vector embeddings for text via Ollama.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for queries when the model is loaded
	DefaultWarmTimeout = 120 * time.Second

	// DefaultColdTimeout is the timeout when the model may need loading
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is the inactivity period after which Ollama
	// unloads the model and the next call pays the cold-start cost
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultDimensions is the embedding dimension for bge-m3
	DefaultDimensions = 1024
)

// DefaultOllamaHost is the default Ollama endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is the default embedding model.
const DefaultOllamaModel = "bge-m3"

// FallbackOllamaModels are tried in order when the configured model is not
// installed.
var FallbackOllamaModels = []string{"bge-m3", "nomic-embed-text", "mxbai-embed-large"}

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
