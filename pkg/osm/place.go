package osm

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

// Place sources
const (
	SourceCoordinates = "coordinates"
	SourceNominatim   = "nominatim"
	SourceBuiltin     = "builtin"
)

// ErrPlaceNotFound is the validation code for names nothing could resolve.
const ErrPlaceNotFound = "PLACE_NOT_FOUND"

const (
	// Half-widths, in degrees, of the boxes built around a point.
	coordinateHalfSpan = 0.05
	cityHalfSpan       = 0.1

	// Geocoded extents wider than this are replaced by a city-sized box
	// around the match, so a country or state never reaches Overpass.
	maxGeocodedSpan = 0.2
)

// Place is a free text location resolved to an analysis box.
type Place struct {
	Name       string          `json:"name"`
	Source     string          `json:"source"`
	Lat        float64         `json:"lat"`
	Lon        float64         `json:"lon"`
	BBox       geo.BoundingBox `json:"bbox"`
	Confidence float64         `json:"confidence"`
}

// PlaceSearcher looks a place name up in a gazetteer.
type PlaceSearcher interface {
	Search(ctx context.Context, place string) (GeocodeResult, bool, error)
}

type city struct {
	name     string
	lat, lon float64
}

// builtinCities is consulted when no geocoder is configured or it fails.
var builtinCities = []city{
	{"delhi", 28.6139, 77.2090},
	{"mumbai", 19.0760, 72.8777},
	{"bangalore", 12.9716, 77.5946},
	{"bengaluru", 12.9716, 77.5946},
	{"chennai", 13.0827, 80.2707},
	{"kolkata", 22.5726, 88.3639},
	{"hyderabad", 17.3850, 78.4867},
	{"pune", 18.5204, 73.8567},
	{"ahmedabad", 23.0225, 72.5714},
	{"jaipur", 26.9124, 75.7873},
	{"lucknow", 26.8467, 80.9462},
}

// latLonPattern matches "lat, lon" or "lat lon" with decimal points, so
// counts in a sentence are not mistaken for coordinates.
var latLonPattern = regexp.MustCompile(`(-?\d{1,2}\.\d+)\s*[,\s]\s*(-?\d{1,3}\.\d+)`)

// Resolver turns place text into a bounding box. Explicit coordinates win,
// then the geocoder, then the builtin city table.
type Resolver struct {
	searcher PlaceSearcher
	logger   *slog.Logger
}

// NewResolver creates a resolver. searcher may be nil.
func NewResolver(searcher PlaceSearcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{searcher: searcher, logger: logger}
}

// Resolve maps text to a Place. Unknown names fail with a
// core.ValidationError coded PLACE_NOT_FOUND; a geocoder outage with no
// builtin match returns the geocoder's error.
func (r *Resolver) Resolve(ctx context.Context, text string) (Place, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Place{}, core.ValidationError{
			Code:    string(core.ErrMissingParameter),
			Message: "place is required",
		}
	}

	place, ok := parseCoordinates(text)
	var searchErr error
	if !ok && r.searcher != nil {
		place, ok, searchErr = r.geocode(ctx, text)
	}
	if !ok {
		place, ok = lookupCity(text)
	}
	if !ok {
		if searchErr != nil {
			return Place{}, searchErr
		}
		return Place{}, core.ValidationError{
			Code:     ErrPlaceNotFound,
			Message:  "could not resolve place " + strconv.Quote(text),
			Guidance: "Name a city or give coordinates as \"lat, lon\"",
		}
	}

	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrPlace, place.Name),
		attribute.String(tracing.AttrPlaceSource, place.Source),
	)
	r.logger.Debug("resolved place", "text", text, "source", place.Source, "bbox", place.BBox.String())
	return place, nil
}

func (r *Resolver) geocode(ctx context.Context, text string) (Place, bool, error) {
	res, found, err := r.searcher.Search(ctx, text)
	if err != nil {
		r.logger.Warn("geocoder failed, trying builtin cities", "place", text, "error", err)
		return Place{}, false, err
	}
	if !found {
		return Place{}, false, nil
	}

	bbox := res.BBox
	if bbox.MaxLat-bbox.MinLat > maxGeocodedSpan || bbox.MaxLon-bbox.MinLon > maxGeocodedSpan ||
		bbox.MaxLat == bbox.MinLat || bbox.MaxLon == bbox.MinLon {
		bbox = around(res.Lat, res.Lon, cityHalfSpan)
	}
	return Place{
		Name:       res.DisplayName,
		Source:     SourceNominatim,
		Lat:        res.Lat,
		Lon:        res.Lon,
		BBox:       bbox,
		Confidence: 0.9,
	}, true, nil
}

func parseCoordinates(text string) (Place, bool) {
	m := latLonPattern.FindStringSubmatch(text)
	if m == nil {
		return Place{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Place{}, false
	}
	return Place{
		Name:       strings.TrimSpace(m[0]),
		Source:     SourceCoordinates,
		Lat:        lat,
		Lon:        lon,
		BBox:       around(lat, lon, coordinateHalfSpan),
		Confidence: 0.8,
	}, true
}

func lookupCity(text string) (Place, bool) {
	lower := strings.ToLower(text)
	for _, c := range builtinCities {
		if !strings.Contains(lower, c.name) {
			continue
		}
		return Place{
			Name:       c.name,
			Source:     SourceBuiltin,
			Lat:        c.lat,
			Lon:        c.lon,
			BBox:       around(c.lat, c.lon, cityHalfSpan),
			Confidence: 0.9,
		}, true
	}
	return Place{}, false
}

// around returns a box of half-width d degrees centred on lat, lon,
// clamped to valid coordinates.
func around(lat, lon, d float64) geo.BoundingBox {
	return geo.NewBoundingBox(
		math.Max(lon-d, -180), math.Max(lat-d, -90),
		math.Min(lon+d, 180), math.Min(lat+d, 90),
	)
}
