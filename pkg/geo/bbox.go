// Package geo provides bounding boxes and geodesic measurements over
// GeoJSON feature collections.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

// EarthRadius is the WGS84 equatorial radius in meters used for all
// spherical measurements.
const EarthRadius = orb.EarthRadius

// BoundingBox is an axis-aligned rectangle in WGS84 degrees.
// Ordering of the minimum and maximum corners is not enforced.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// NewBoundingBox builds a bounding box from the ordered tuple
// minLon, minLat, maxLon, maxLat.
func NewBoundingBox(minLon, minLat, maxLon, maxLat float64) BoundingBox {
	return BoundingBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

// Tuple returns the box as [minLon, minLat, maxLon, maxLat].
func (b BoundingBox) Tuple() [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// Bound converts the box to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() orb.Point {
	return orb.Point{(b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2}
}

// String formats the box as "minLon,minLat,maxLon,maxLat".
func (b BoundingBox) String() string {
	parts := make([]string, 0, 4)
	for _, v := range b.Tuple() {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the box as a 4-element array.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Tuple())
}

// UnmarshalJSON accepts a 4-element numeric array.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalidBBox("bbox must be a JSON array of four numbers")
	}
	parsed, err := ParseBoundingBox(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBoundingBox validates a raw bounding box value and converts it.
// Accepted shapes are []float64, [4]float64, []any holding numbers and
// BoundingBox. Anything else, strings included, is a ValidationError.
func ParseBoundingBox(raw any) (BoundingBox, error) {
	var vals []float64

	switch v := raw.(type) {
	case BoundingBox:
		return v, nil
	case *BoundingBox:
		if v == nil {
			return BoundingBox{}, invalidBBox("bbox is required")
		}
		return *v, nil
	case [4]float64:
		vals = v[:]
	case []float64:
		vals = v
	case []any:
		vals = make([]float64, 0, len(v))
		for i, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return BoundingBox{}, invalidBBox(fmt.Sprintf("bbox element %d is not a number: %v", i, item))
			}
			vals = append(vals, f)
		}
	case nil:
		return BoundingBox{}, invalidBBox("bbox is required")
	default:
		return BoundingBox{}, invalidBBox(fmt.Sprintf("bbox must be a list of four numbers, got %T", raw))
	}

	if len(vals) != 4 {
		return BoundingBox{}, invalidBBox(fmt.Sprintf("bbox must have exactly 4 elements, got %d", len(vals)))
	}
	for i, f := range vals {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return BoundingBox{}, invalidBBox(fmt.Sprintf("bbox element %d is not finite", i))
		}
	}

	return NewBoundingBox(vals[0], vals[1], vals[2], vals[3]), nil
}

// ParseBoundingBoxString parses "minLon,minLat,maxLon,maxLat" as typed on a
// command line or in a query string.
func ParseBoundingBoxString(s string) (BoundingBox, error) {
	if strings.TrimSpace(s) == "" {
		return BoundingBox{}, invalidBBox("bbox is required")
	}

	fields := strings.Split(s, ",")
	vals := make([]float64, 0, len(fields))
	for i, field := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return BoundingBox{}, invalidBBox(fmt.Sprintf("bbox element %d is not a number: %q", i, field))
		}
		vals = append(vals, f)
	}
	return ParseBoundingBox(vals)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func invalidBBox(msg string) error {
	return core.ValidationError{
		Code:     string(core.ErrInvalidBBox),
		Message:  msg,
		Guidance: "Provide the box as [minLon, minLat, maxLon, maxLat] in decimal degrees",
	}
}
