package embed

import "time"

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama endpoint (default http://localhost:11434).
	Host string
	// Model is the preferred embedding model.
	Model string
	// FallbackModels are tried when Model is not installed.
	FallbackModels []string
	// Dimensions is the embedding dimensionality; 0 means auto-detect.
	Dimensions int
	// BatchSize is the number of texts per /api/embed call.
	BatchSize int
	// MaxRetries is the number of attempts per batch.
	MaxRetries int
	// SkipHealthCheck skips model discovery at construction, for tests.
	SkipHealthCheck bool
	// ProgressFunc, when set, receives (completed, total) after each batch.
	ProgressFunc func(completed, total int)
}

// OllamaEmbedRequest is the /api/embed request body.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// OllamaEmbedResponse is the /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelInfo describes one installed model from /api/tags.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// OllamaModelListResponse is the /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}
