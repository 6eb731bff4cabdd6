// Package asr transcribes audio to timestamped text via a whisper server.
package asr

import "context"

// Segment is one timestamped span of transcribed speech.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is a complete transcription.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// Transcriber converts audio files to text.
type Transcriber interface {
	// Transcribe transcribes the audio file. Language is a BCP-47 hint;
	// empty means auto-detect.
	Transcribe(ctx context.Context, audioPath string, language string) (*Result, error)

	// Available reports whether the transcription backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
