// Package media classifies files by extension into the media types the
// indexer understands.
package media

import (
	"path/filepath"
	"strings"
)

// Type is the coarse media classification of a file.
type Type string

const (
	TypeDocument Type = "document"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".webp": {}, ".bmp": {}, ".tiff": {}, ".svg": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {},
	".webm": {}, ".wmv": {}, ".flv": {},
}

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".m4a": {},
	".ogg": {}, ".aac": {}, ".wma": {},
}

var pdfExtensions = map[string]struct{}{
	".pdf": {},
}

var officeExtensions = map[string]struct{}{
	".docx": {}, ".xlsx": {}, ".pptx": {},
}

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".json": {}, ".csv": {}, ".xml": {}, ".html": {},
}

// TypeOf classifies a path. Anything not image, video or audio is a document.
func TypeOf(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case has(imageExtensions, ext):
		return TypeImage
	case has(videoExtensions, ext):
		return TypeVideo
	case has(audioExtensions, ext):
		return TypeAudio
	default:
		return TypeDocument
	}
}

// IsMediaFile reports whether the path is playable media (video or audio).
func IsMediaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return has(videoExtensions, ext) || has(audioExtensions, ext)
}

// IsIndexable reports whether the file type has an extractor.
func IsIndexable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return has(imageExtensions, ext) ||
		has(videoExtensions, ext) ||
		has(audioExtensions, ext) ||
		has(pdfExtensions, ext) ||
		has(officeExtensions, ext) ||
		has(textExtensions, ext)
}

// IsPDF reports whether the path has a PDF extension.
func IsPDF(path string) bool {
	return has(pdfExtensions, strings.ToLower(filepath.Ext(path)))
}

// IsOffice reports whether the path is a docx, xlsx or pptx file.
func IsOffice(path string) bool {
	return has(officeExtensions, strings.ToLower(filepath.Ext(path)))
}

// IsText reports whether the path is a plain text format.
func IsText(path string) bool {
	return has(textExtensions, strings.ToLower(filepath.Ext(path)))
}

func has(set map[string]struct{}, ext string) bool {
	_, ok := set[ext]
	return ok
}
