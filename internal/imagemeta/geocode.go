package imagemeta

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/sams96/rgeo"
	geom "github.com/twpayne/go-geom"
)

// The province-level dataset is decompressed on first use and then shared;
// loading it takes a moment, so it stays lazy for images without GPS tags.
var (
	geocoderOnce sync.Once
	geocoder     *rgeo.Rgeo
)

// PlaceName resolves GPS coordinates to a human-readable "Province, Country"
// string using an embedded offline dataset. Returns "" when the coordinates
// cannot be resolved (open ocean) or the dataset fails to load.
func PlaceName(lat, long float64) string {
	geocoderOnce.Do(func() {
		r, err := rgeo.New(rgeo.Provinces10)
		if err != nil {
			slog.Error("failed to load reverse geocoding dataset",
				slog.String("error", err.Error()))
			return
		}
		geocoder = r
	})
	if geocoder == nil {
		return ""
	}

	loc, err := geocoder.ReverseGeocode(geom.Coord{long, lat})
	if err != nil {
		return ""
	}

	var parts []string
	if loc.Province != "" {
		parts = append(parts, loc.Province)
	}
	if loc.Country != "" {
		parts = append(parts, loc.Country)
	}
	return strings.Join(parts, ", ")
}
