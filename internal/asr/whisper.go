package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// DefaultWhisperHost is the default whisper-server endpoint.
const DefaultWhisperHost = "http://localhost:8090"

// DefaultTranscribeTimeout bounds one transcription request. Long recordings
// on CPU can run for many minutes.
const DefaultTranscribeTimeout = 30 * time.Minute

// WhisperConfig configures the whisper-server client.
type WhisperConfig struct {
	// Host is the whisper-server endpoint (default http://localhost:8090).
	Host string
	// Model is sent in the request; most servers ignore it and use whatever
	// model they were started with.
	Model string
	// RequestTimeout bounds one transcription; 0 uses the default.
	RequestTimeout time.Duration
}

// WhisperClient transcribes audio through a whisper-server speaking the
// OpenAI-compatible /v1/audio/transcriptions API.
type WhisperClient struct {
	client    *http.Client
	transport *http.Transport
	config    WhisperConfig

	mu     sync.Mutex
	closed bool
}

// Verify interface implementation at compile time
var _ Transcriber = (*WhisperClient)(nil)

// NewWhisperClient creates a new whisper-server client.
func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	if cfg.Host == "" {
		cfg.Host = DefaultWhisperHost
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultTranscribeTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &WhisperClient{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// verboseSegment is one segment in a verbose_json transcription response.
type verboseSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// verboseResponse is the verbose_json transcription response body.
type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

// Transcribe uploads the audio file and returns the timestamped transcript.
func (w *WhisperClient) Transcribe(ctx context.Context, audioPath string, language string) (*Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("whisper client is closed")
	}
	w.mu.Unlock()

	audioData, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, lenserrors.FileError("audio file not found: "+audioPath, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}
	_ = mw.WriteField("response_format", "verbose_json")
	if w.config.Model != "" {
		_ = mw.WriteField("model", w.config.Model)
	}
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, w.config.RequestTimeout)
	defer cancel()

	url := w.config.Host + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeTranscriptionFailed,
			"whisper server request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, lenserrors.New(lenserrors.ErrCodeTranscriptionFailed,
			fmt.Sprintf("whisper server returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeTranscriptionFailed,
			"failed to decode whisper response", err)
	}

	segments := make([]Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		segments = append(segments, Segment{
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start,
			End:   s.End,
		})
	}

	text := strings.TrimSpace(vr.Text)
	if text == "" && len(segments) > 0 {
		parts := make([]string, len(segments))
		for i, s := range segments {
			parts[i] = s.Text
		}
		text = strings.Join(parts, " ")
	}

	duration := vr.Duration
	if duration == 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	lang := vr.Language
	if lang == "" {
		lang = language
	}
	if lang == "" {
		lang = "unknown"
	}

	slog.Info("transcription complete",
		slog.String("file", audioPath),
		slog.String("language", lang),
		slog.Float64("duration", duration),
		slog.Int("segments", len(segments)))

	return &Result{
		Text:     text,
		Segments: segments,
		Language: lang,
		Duration: duration,
	}, nil
}

// Available checks if the whisper server responds to a health probe.
func (w *WhisperClient) Available(ctx context.Context) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, w.config.Host+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (w *WhisperClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.transport.CloseIdleConnections()
	return nil
}
