package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// IntersectionGridScale quantizes coordinates to roughly 11 m cells.
	IntersectionGridScale = 1e4

	// IntersectionMinVertices is the vertex count at which a cell is
	// treated as an intersection.
	IntersectionMinVertices = 3
)

type gridCell struct {
	x, y int64
}

// PointDensityPerKm2 returns the number of features per square kilometer.
func PointDensityPerKm2(fc *geojson.FeatureCollection, areaKm2 float64) float64 {
	if fc == nil || len(fc.Features) == 0 || areaKm2 <= 0 {
		return 0
	}
	return float64(len(fc.Features)) / areaKm2
}

// CountIntersections approximates the number of network junctions by
// snapping every line vertex to a grid and counting cells shared by at
// least IntersectionMinVertices vertices. Non-linear geometries are ignored.
func CountIntersections(fc *geojson.FeatureCollection) int {
	if fc == nil {
		return 0
	}

	cells := make(map[gridCell]int)
	add := func(ls orb.LineString) {
		for _, p := range ls {
			cells[quantize(p)]++
		}
	}

	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.LineString:
			add(g)
		case orb.MultiLineString:
			for _, ls := range g {
				add(ls)
			}
		}
	}

	count := 0
	for _, n := range cells {
		if n >= IntersectionMinVertices {
			count++
		}
	}
	return count
}

// IntersectionDensityPerKm2 returns CountIntersections divided by the area.
func IntersectionDensityPerKm2(fc *geojson.FeatureCollection, areaKm2 float64) float64 {
	if areaKm2 <= 0 {
		return 0
	}
	return float64(CountIntersections(fc)) / areaKm2
}

func quantize(p orb.Point) gridCell {
	return gridCell{
		x: int64(math.Round(p.Lon() * IntersectionGridScale)),
		y: int64(math.Round(p.Lat() * IntersectionGridScale)),
	}
}
