package analysis

import (
	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

// Metrics is the quantitative profile of one bounding box.
type Metrics struct {
	AreaKm2             float64 `json:"area_km2"`
	RoadsKm             float64 `json:"roads_km"`
	RoadsKmPerKm2       float64 `json:"roads_km_per_km2"`
	BuildingsCount      int     `json:"buildings_count"`
	BuildingsPerKm2     float64 `json:"buildings_per_km2"`
	IntersectionsPerKm2 float64 `json:"intersections_per_km2"`
	HospitalsPerKm2     float64 `json:"hospitals_per_km2"`
	SchoolsPerKm2       float64 `json:"schools_per_km2"`
	SocioEconScore      float64 `json:"SocioEconScore"`
}

// Breakdown exposes the intermediate values behind Metrics.
type Breakdown struct {
	InfraIndex       float64 `json:"infra_index"`
	AccessIndex      float64 `json:"access_index"`
	RoadFeatures     int     `json:"road_features"`
	BuildingFeatures int     `json:"building_features"`
	AmenityFeatures  int     `json:"amenity_features"`
	Hospitals        int     `json:"hospitals"`
	Schools          int     `json:"schools"`
	Intersections    int     `json:"intersections"`
}

// Layers holds the converted features of the three profile queries.
type Layers struct {
	Roads     *geojson.FeatureCollection `json:"roads"`
	Buildings *geojson.FeatureCollection `json:"buildings"`
	Amenities *geojson.FeatureCollection `json:"amenities"`
}

// ComputeMetrics derives the rounded metrics and their breakdown from the
// three layers. It performs no I/O.
func ComputeMetrics(bbox geo.BoundingBox, layers Layers) (Metrics, Breakdown) {
	area := geo.AreaKm2(bbox)

	roadKm := geo.LengthKm(layers.Roads)
	buildings := featureCount(layers.Buildings)
	hospitals := FilterByTag(layers.Amenities, "amenity", "hospital")
	schools := FilterByTag(layers.Amenities, "amenity", "school")

	roadDensity := perKm2(roadKm, area)
	buildingDensity := perKm2(float64(buildings), area)
	intxnDensity := geo.IntersectionDensityPerKm2(layers.Roads, area)
	hospDensity := geo.PointDensityPerKm2(hospitals, area)
	schoolDensity := geo.PointDensityPerKm2(schools, area)

	score := core.ComposeScore(core.ScoreInputs{
		RoadsKmPerKm2:       roadDensity,
		IntersectionsPerKm2: intxnDensity,
		HospitalsPerKm2:     hospDensity,
		SchoolsPerKm2:       schoolDensity,
	})

	m := Metrics{
		AreaKm2:             core.Round(area, 3),
		RoadsKm:             core.Round(roadKm, 3),
		RoadsKmPerKm2:       core.Round(roadDensity, 3),
		BuildingsCount:      buildings,
		BuildingsPerKm2:     core.Round(buildingDensity, 3),
		IntersectionsPerKm2: core.Round(intxnDensity, 3),
		HospitalsPerKm2:     core.Round(hospDensity, 4),
		SchoolsPerKm2:       core.Round(schoolDensity, 4),
		SocioEconScore:      core.Round(score.Score, 1),
	}

	b := Breakdown{
		InfraIndex:       core.Round(score.Infrastructure, 4),
		AccessIndex:      core.Round(score.Access, 4),
		RoadFeatures:     featureCount(layers.Roads),
		BuildingFeatures: buildings,
		AmenityFeatures:  featureCount(layers.Amenities),
		Hospitals:        featureCount(hospitals),
		Schools:          featureCount(schools),
		Intersections:    geo.CountIntersections(layers.Roads),
	}
	return m, b
}

// FilterByTag returns the features whose property key equals value.
func FilterByTag(fc *geojson.FeatureCollection, key, value string) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		if v, ok := f.Properties[key].(string); ok && v == value {
			out.Append(f)
		}
	}
	return out
}

func featureCount(fc *geojson.FeatureCollection) int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

func perKm2(v, area float64) float64 {
	if area == 0 {
		return 0
	}
	return v / area
}
