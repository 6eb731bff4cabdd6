// Package vlm provides image understanding and OCR via Ollama vision models.
package vlm

import (
	"context"
	"errors"
	"time"
)

// DefaultModel is the default vision model.
const DefaultModel = "llava:7b"

// FallbackModel is tried when the configured model is not installed.
const FallbackModel = "llava:7b"

// DefaultRequestTimeout bounds a single chat completion. Vision inference on
// CPU-only hosts can take minutes for large images.
const DefaultRequestTimeout = 180 * time.Second

// ErrNoVLMAvailable indicates no vision model is installed in Ollama.
var ErrNoVLMAvailable = errors.New("no vision model available, run: ollama pull " + FallbackModel)

// noTextSentinel is what the OCR prompt asks the model to answer when an
// image contains no readable text.
const noTextSentinel = "NO TEXT FOUND"

// describePrompt asks for a searchable description of the image.
const describePrompt = "Describe this image in detail. " +
	"Include any text visible in the image. " +
	"Focus on the main content and any important details."

// ocrPrompt asks for text extraction only.
const ocrPrompt = "Extract all text visible in this image. " +
	"Return only the text content, without any descriptions. " +
	"If there is no text, return '" + noTextSentinel + "'."

// Analysis is the combined output of description and OCR for one image.
type Analysis struct {
	Description string
	OCRText     string
}

// Describer analyzes images with a vision model.
type Describer interface {
	// Describe returns a free-form description of the image.
	Describe(ctx context.Context, imagePath string) (string, error)

	// ExtractText performs OCR on the image. Returns an empty string when
	// the model reports no readable text.
	ExtractText(ctx context.Context, imagePath string) (string, error)

	// Analyze returns both description and OCR text for the image.
	Analyze(ctx context.Context, imagePath string) (Analysis, error)

	// ModelName returns the resolved model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// chatMessage is one message in an Ollama /api/chat request or response.
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatResponse is the non-streaming /api/chat response body.
type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// modelInfo describes one installed model from /api/tags.
type modelInfo struct {
	Name string `json:"name"`
}

// modelListResponse is the /api/tags response body.
type modelListResponse struct {
	Models []modelInfo `json:"models"`
}
