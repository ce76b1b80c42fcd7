package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// AreaKm2 returns the geodesic area of the box on a sphere of radius
// EarthRadius, in square kilometers.
func AreaKm2(b BoundingBox) float64 {
	return math.Abs(orbgeo.Area(b.Bound().ToPolygon())) / 1e6
}

// LengthKm sums the haversine length of all linear geometries in the
// collection. Polygons contribute their exterior ring only; points and
// other geometries contribute nothing.
func LengthKm(fc *geojson.FeatureCollection) float64 {
	if fc == nil {
		return 0
	}

	var meters float64
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		meters += geometryLength(f.Geometry)
	}
	return meters / 1000
}

func geometryLength(g orb.Geometry) float64 {
	switch g := g.(type) {
	case orb.LineString:
		return orbgeo.LengthHaversine(g)
	case orb.MultiLineString:
		var m float64
		for _, ls := range g {
			m += orbgeo.LengthHaversine(ls)
		}
		return m
	case orb.Polygon:
		if len(g) == 0 {
			return 0
		}
		return orbgeo.LengthHaversine(orb.LineString(g[0]))
	case orb.MultiPolygon:
		var m float64
		for _, p := range g {
			if len(p) > 0 {
				m += orbgeo.LengthHaversine(orb.LineString(p[0]))
			}
		}
		return m
	default:
		return 0
	}
}
