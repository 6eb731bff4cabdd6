package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// Config configures the Ollama vision client.
type Config struct {
	// Host is the Ollama endpoint (default http://localhost:11434).
	Host string
	// Model is the preferred vision model (default llava:7b).
	Model string
	// RequestTimeout bounds a single chat completion; 0 uses the default.
	RequestTimeout time.Duration
}

// OllamaVLM analyzes images using Ollama's chat API with vision models.
type OllamaVLM struct {
	client    *http.Client
	transport *http.Transport
	config    Config

	mu       sync.Mutex
	resolved string // model name confirmed installed, empty until first use
	closed   bool
}

// Verify interface implementation at compile time
var _ Describer = (*OllamaVLM)(nil)

// NewOllamaVLM creates a new Ollama vision client. Model availability is
// checked lazily on first use so construction never blocks on the network.
func NewOllamaVLM(cfg Config) *OllamaVLM {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}

	return &OllamaVLM{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// resolveModel finds an installed vision model, preferring the configured one
// and matching with or without version tags. The result is cached.
func (v *OllamaVLM) resolveModel(ctx context.Context) (string, error) {
	v.mu.Lock()
	if v.resolved != "" {
		name := v.resolved
		v.mu.Unlock()
		return name, nil
	}
	v.mu.Unlock()

	models, err := v.listModels(ctx)
	if err != nil {
		return "", lenserrors.New(lenserrors.ErrCodeOllamaUnavailable,
			"failed to list Ollama models", err)
	}

	for _, candidate := range []string{v.config.Model, FallbackModel} {
		base := strings.ToLower(strings.Split(candidate, ":")[0])
		for _, m := range models {
			if strings.HasPrefix(strings.ToLower(m.Name), base) {
				v.mu.Lock()
				v.resolved = m.Name
				v.mu.Unlock()
				return m.Name, nil
			}
		}
	}

	return "", ErrNoVLMAvailable
}

func (v *OllamaVLM) listModels(ctx context.Context) ([]modelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// encodeImage reads and base64-encodes an image file.
func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", lenserrors.FileError("image not found: "+path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// chat performs one non-streaming chat completion with the image attached.
// The HTTP call runs in a goroutine so context cancellation unblocks the
// caller immediately.
func (v *OllamaVLM) chat(ctx context.Context, model, prompt, imageB64 string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt, Images: []string{imageB64}},
		},
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, v.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost,
		v.config.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		content string
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := v.client.Do(req)
		if err != nil {
			resultCh <- result{"", err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{"", fmt.Errorf("chat failed with status %d: %s",
				resp.StatusCode, string(respBody))}
			return
		}

		var apiResult chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{"", fmt.Errorf("failed to decode response: %w", err)}
			return
		}
		resultCh <- result{apiResult.Message.Content, nil}
	}()

	select {
	case <-timeoutCtx.Done():
		v.transport.CloseIdleConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", lenserrors.New(lenserrors.ErrCodeUpstreamTimeout,
				fmt.Sprintf("vision model timed out after %s", v.config.RequestTimeout), nil)
		}
		return "", timeoutCtx.Err()
	case r := <-resultCh:
		return r.content, r.err
	}
}

// Describe returns a free-form description of the image.
func (v *OllamaVLM) Describe(ctx context.Context, imagePath string) (string, error) {
	return v.describeWithPrompt(ctx, imagePath, describePrompt)
}

func (v *OllamaVLM) describeWithPrompt(ctx context.Context, imagePath, prompt string) (string, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return "", fmt.Errorf("vlm client is closed")
	}
	v.mu.Unlock()

	model, err := v.resolveModel(ctx)
	if err != nil {
		return "", err
	}

	imageB64, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	content, err := v.chat(ctx, model, prompt, imageB64)
	if err != nil {
		return "", err
	}

	slog.Debug("vision analysis complete",
		slog.String("image", imagePath),
		slog.String("model", model),
		slog.Int("chars", len(content)))

	return content, nil
}

// ExtractText performs OCR on the image. Returns an empty string when the
// model reports no readable text.
func (v *OllamaVLM) ExtractText(ctx context.Context, imagePath string) (string, error) {
	text, err := v.describeWithPrompt(ctx, imagePath, ocrPrompt)
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToUpper(text), noTextSentinel) {
		return "", nil
	}
	return text, nil
}

// Analyze returns both description and OCR text for the image.
func (v *OllamaVLM) Analyze(ctx context.Context, imagePath string) (Analysis, error) {
	description, err := v.Describe(ctx, imagePath)
	if err != nil {
		return Analysis{}, err
	}

	ocrText, err := v.ExtractText(ctx, imagePath)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{Description: description, OCRText: ocrText}, nil
}

// ModelName returns the resolved model, or the configured one before first use.
func (v *OllamaVLM) ModelName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolved != "" {
		return v.resolved
	}
	return v.config.Model
}

// Close releases resources.
func (v *OllamaVLM) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.transport.CloseIdleConnections()
	return nil
}
