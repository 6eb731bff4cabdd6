// Package imagemeta extracts EXIF metadata and pixel dimensions from images
// and formats them as searchable text.
package imagemeta

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	// Register decoders for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata holds what could be read from an image file. All fields are
// optional; missing EXIF leaves them zero.
type Metadata struct {
	CapturedAt  *time.Time
	CameraMake  string
	CameraModel string
	Latitude    *float64
	Longitude   *float64
	Title       string
	Creator     string
	Width       int
	Height      int
}

// Extract reads EXIF metadata and pixel dimensions from an image. Extraction
// is best-effort: a file without EXIF or in an undecodable format yields a
// partially filled Metadata, never an error from missing fields.
func Extract(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	meta := &Metadata{}

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	if _, err := f.Seek(0, 0); err != nil {
		return meta, nil
	}

	x, err := exif.Decode(f)
	if err != nil {
		// PNG, WebP, and stripped JPEGs commonly have no EXIF
		slog.Debug("no EXIF data", slog.String("path", path), slog.String("error", err.Error()))
		return meta, nil
	}

	if ts, err := x.DateTime(); err == nil {
		meta.CapturedAt = &ts
	}
	if lat, long, err := x.LatLong(); err == nil {
		meta.Latitude = &lat
		meta.Longitude = &long
	}
	meta.CameraMake = stringField(x, exif.Make)
	meta.CameraModel = stringField(x, exif.Model)
	meta.Title = stringField(x, exif.ImageDescription)
	meta.Creator = stringField(x, exif.Artist)

	return meta, nil
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// FormatForEmbedding renders metadata as prose lines so date, camera, and
// place queries can match images through the embedding space.
func FormatForEmbedding(meta *Metadata) string {
	if meta == nil {
		return ""
	}

	var parts []string

	if meta.CapturedAt != nil {
		parts = append(parts, "Captured: "+meta.CapturedAt.Format("2006-01-02 15:04:05"))
	}

	var camera []string
	if meta.CameraMake != "" {
		camera = append(camera, meta.CameraMake)
	}
	if meta.CameraModel != "" {
		camera = append(camera, meta.CameraModel)
	}
	if len(camera) > 0 {
		parts = append(parts, "Camera: "+strings.Join(camera, " "))
	}

	if meta.Latitude != nil && meta.Longitude != nil {
		coords := fmt.Sprintf("%.4f, %.4f", *meta.Latitude, *meta.Longitude)
		if place := PlaceName(*meta.Latitude, *meta.Longitude); place != "" {
			parts = append(parts, fmt.Sprintf("Location: %s (%s)", place, coords))
		} else {
			parts = append(parts, "Location: "+coords)
		}
	}

	if meta.Title != "" {
		parts = append(parts, "Title: "+meta.Title)
	}
	if meta.Creator != "" {
		parts = append(parts, "Creator: "+meta.Creator)
	}

	if meta.Width > 0 && meta.Height > 0 {
		parts = append(parts, fmt.Sprintf("Dimensions: %dx%d", meta.Width, meta.Height))
	}

	return strings.Join(parts, "\n")
}
