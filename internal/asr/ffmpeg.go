package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// extractTimeout bounds one audio extraction run.
const extractTimeout = time.Hour

// probeTimeout bounds one ffprobe run.
const probeTimeout = 30 * time.Second

// MediaInfo holds metadata probed from a media file.
type MediaInfo struct {
	Duration float64
	Width    int
	Height   int
	Format   string
}

// CheckFFmpeg reports whether the ffmpeg binary is on PATH.
func CheckFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ExtractAudio extracts a mono 16kHz WAV from a video or audio file, suitable
// for whisper input. The output goes to a temp directory the caller removes.
func ExtractAudio(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", lenserrors.FileError("input file not found: "+inputPath, err)
	}

	tempDir, err := os.MkdirTemp("", "loclens-audio-*")
	if err != nil {
		return "", err
	}
	outputPath := filepath.Join(tempDir, "audio.wav")

	runCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffmpeg",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.RemoveAll(tempDir)
		if _, lookErr := exec.LookPath("ffmpeg"); lookErr != nil {
			return "", lenserrors.New(lenserrors.ErrCodeToolNotFound,
				"ffmpeg not found on PATH", lookErr).
				WithSuggestion("install ffmpeg to index audio and video files")
		}
		return "", lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			fmt.Sprintf("ffmpeg failed: %s", string(output)), err)
	}

	return outputPath, nil
}

// ffprobe JSON output shapes.
type probeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// ProbeMedia reads duration, dimensions, and container format via ffprobe.
func ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, lenserrors.FileError("media file not found: "+path, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffprobe",
		"-v", "error",
		"-show_entries", "stream=width,height,codec_type",
		"-show_entries", "format=duration,format_name",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if _, lookErr := exec.LookPath("ffprobe"); lookErr != nil {
			return nil, lenserrors.New(lenserrors.ErrCodeToolNotFound,
				"ffprobe not found on PATH", lookErr)
		}
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"ffprobe failed for "+path, err)
	}

	return parseProbeOutput(output)
}

// parseProbeOutput converts ffprobe JSON into MediaInfo. Dimensions come from
// the first video stream, if any.
func parseProbeOutput(data []byte) (*MediaInfo, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &MediaInfo{Format: probe.Format.FormatName}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			break
		}
	}

	return info, nil
}
