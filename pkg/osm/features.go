package osm

import (
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geojson"
	gosm "github.com/paulmach/osm"

	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

// DefaultAllowedTypes admits every element type.
var DefaultAllowedTypes = []gosm.Type{TypeNode, TypeWay, TypeRelation}

// ToFeatureCollection converts Overpass elements into GeoJSON features.
//
// Nodes become points. Ways with geometry become line strings, or closed
// polygons when tagged with a non-empty building value. Relations and ways
// without geometry are dropped. Each feature's properties start with the
// element id and then copy every tag, so a tag named "id" wins.
func ToFeatureCollection(elements []Element, allowed ...gosm.Type) *geojson.FeatureCollection {
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	admit := make(map[gosm.Type]bool, len(allowed))
	for _, t := range allowed {
		admit[t] = true
	}

	fc := geojson.NewFeatureCollection()
	for _, e := range elements {
		if !admit[e.Type] {
			continue
		}

		var g orb.Geometry
		switch e.Type {
		case TypeNode:
			g = orb.Point{e.Lon, e.Lat}
		case TypeWay:
			g = wayGeometry(e)
			if g == nil {
				slog.Debug("skipping way without geometry", "feature", e.FeatureID().String())
				continue
			}
		default:
			continue
		}

		f := geojson.NewFeature(g)
		f.Properties["id"] = e.ID
		for k, v := range e.Tags {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}

func wayGeometry(e Element) orb.Geometry {
	ls := make(orb.LineString, 0, len(e.Geometry)+1)
	for _, p := range e.Geometry {
		if p == nil {
			continue
		}
		ls = append(ls, orb.Point{p.Lon, p.Lat})
	}
	if len(ls) == 0 {
		return nil
	}

	if e.Tags["building"] != "" {
		ring := orb.Ring(append(ls, ls[0]))
		return orb.Polygon{ring}
	}
	return ls
}

// ClipToBBox returns a new collection with every geometry clipped to the
// box. Features entirely outside the box are dropped; properties are shared
// with the input features.
func ClipToBBox(fc *geojson.FeatureCollection, bbox geo.BoundingBox) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}

	b := bbox.Bound()
	bound := orb.MultiPoint{b.Min, b.Max}.Bound()

	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		g := clip.Geometry(bound, f.Geometry)
		if g == nil || isEmpty(g) {
			continue
		}
		clipped := geojson.NewFeature(g)
		clipped.Properties = f.Properties
		out.Append(clipped)
	}
	return out
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	default:
		return false
	}
}
