package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFfake"), 0o644))
	return path
}

func fakeWhisperServer(t *testing.T, response verboseResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)

		case "/v1/audio/transcriptions":
			require.NoError(t, r.ParseMultipartForm(32<<20))
			assert.Equal(t, "verbose_json", r.FormValue("response_format"))

			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			_ = file.Close()

			_ = json.NewEncoder(w).Encode(response)

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestTranscribe(t *testing.T) {
	srv := fakeWhisperServer(t, verboseResponse{
		Text:     "hello world this is a test",
		Language: "en",
		Duration: 4.2,
		Segments: []verboseSegment{
			{Text: " hello world ", Start: 0, End: 2.1},
			{Text: " this is a test ", Start: 2.1, End: 4.2},
		},
	})
	defer srv.Close()

	c := NewWhisperClient(WhisperConfig{Host: srv.URL})
	defer func() { _ = c.Close() }()

	result, err := c.Transcribe(context.Background(), writeTestAudio(t), "")
	require.NoError(t, err)

	assert.Equal(t, "hello world this is a test", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 4.2, result.Duration, 1e-9)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "hello world", result.Segments[0].Text, "segment text is trimmed")
	assert.InDelta(t, 2.1, result.Segments[1].Start, 1e-9)
}

func TestTranscribe_FullTextFromSegments(t *testing.T) {
	srv := fakeWhisperServer(t, verboseResponse{
		Segments: []verboseSegment{
			{Text: "first", Start: 0, End: 1},
			{Text: "second", Start: 1, End: 2.5},
		},
	})
	defer srv.Close()

	c := NewWhisperClient(WhisperConfig{Host: srv.URL})
	defer func() { _ = c.Close() }()

	result, err := c.Transcribe(context.Background(), writeTestAudio(t), "")
	require.NoError(t, err)

	assert.Equal(t, "first second", result.Text)
	assert.InDelta(t, 2.5, result.Duration, 1e-9, "duration falls back to last segment end")
	assert.Equal(t, "unknown", result.Language)
}

func TestTranscribe_MissingFile(t *testing.T) {
	c := NewWhisperClient(WhisperConfig{Host: "http://localhost:1"})
	defer func() { _ = c.Close() }()

	_, err := c.Transcribe(context.Background(), "/nonexistent/clip.wav", "")
	require.Error(t, err)
	assert.Equal(t, lenserrors.ErrCodeFileNotFound, lenserrors.GetCode(err))
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWhisperClient(WhisperConfig{Host: srv.URL})
	defer func() { _ = c.Close() }()

	_, err := c.Transcribe(context.Background(), writeTestAudio(t), "")
	require.Error(t, err)
	assert.Equal(t, lenserrors.ErrCodeTranscriptionFailed, lenserrors.GetCode(err))
	assert.True(t, lenserrors.IsRetryable(err))
}

func TestAvailable(t *testing.T) {
	srv := fakeWhisperServer(t, verboseResponse{})
	defer srv.Close()

	c := NewWhisperClient(WhisperConfig{Host: srv.URL})
	defer func() { _ = c.Close() }()
	assert.True(t, c.Available(context.Background()))

	down := NewWhisperClient(WhisperConfig{Host: "http://localhost:1"})
	defer func() { _ = down.Close() }()
	assert.False(t, down.Available(context.Background()))
}

// =============================================================================
// ffprobe parsing
// =============================================================================

func TestParseProbeOutput_Video(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio"},
			{"codec_type": "video", "width": 1920, "height": 1080}
		],
		"format": {"duration": "123.456", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`)

	info, err := parseProbeOutput(data)
	require.NoError(t, err)

	assert.InDelta(t, 123.456, info.Duration, 1e-9)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", info.Format)
}

func TestParseProbeOutput_AudioOnly(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_type": "audio"}],
		"format": {"duration": "61.5", "format_name": "mp3"}
	}`)

	info, err := parseProbeOutput(data)
	require.NoError(t, err)

	assert.InDelta(t, 61.5, info.Duration, 1e-9)
	assert.Zero(t, info.Width)
	assert.Zero(t, info.Height)
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}
