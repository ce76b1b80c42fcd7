package queries

import "github.com/NERVsystems/urbanmcp/pkg/geo"

// Layer names one of the profile queries.
type Layer string

// Profile layers
const (
	LayerRoads     Layer = "roads"
	LayerBuildings Layer = "buildings"
	LayerAmenities Layer = "amenities"
)

// Layers lists the profile layers in a fixed order.
var Layers = []Layer{LayerRoads, LayerBuildings, LayerAmenities}

// AmenityTags are the point-of-interest filters of the amenities query.
var AmenityTags = []Tag{
	{Key: "amenity", Value: "hospital"},
	{Key: "amenity", Value: "clinic"},
	{Key: "amenity", Value: "school"},
	{Key: "amenity", Value: "university"},
	{Key: "public_transport", Value: "station"},
	{Key: "highway", Value: "bus_stop"},
}

// Profile holds the three Overpass queries for one bounding box.
type Profile struct {
	Roads     string `json:"roads"`
	Buildings string `json:"buildings"`
	Amenities string `json:"amenities"`
}

// Get returns the query for a layer.
func (p Profile) Get(layer Layer) string {
	switch layer {
	case LayerRoads:
		return p.Roads
	case LayerBuildings:
		return p.Buildings
	case LayerAmenities:
		return p.Amenities
	default:
		return ""
	}
}

// RoadsQuery selects every way tagged highway with full geometry.
func RoadsQuery(bbox geo.BoundingBox) string {
	return NewOverpassBuilder().
		WithWayInBbox(bbox, Tag{Key: "highway"}).
		WithOutput("geom").
		Build()
}

// BuildingsQuery selects every way tagged building with full geometry.
func BuildingsQuery(bbox geo.BoundingBox) string {
	return NewOverpassBuilder().
		WithWayInBbox(bbox, Tag{Key: "building"}).
		WithOutput("geom").
		Build()
}

// AmenitiesQuery selects health, education and transit nodes.
func AmenitiesQuery(bbox geo.BoundingBox) string {
	b := NewOverpassBuilder()
	for _, t := range AmenityTags {
		b.WithNodeInBbox(bbox, t)
	}
	return b.WithOutput("body").Build()
}

// ProfileQueries builds all three queries for the box. It performs no
// validation of the box.
func ProfileQueries(bbox geo.BoundingBox) Profile {
	return Profile{
		Roads:     RoadsQuery(bbox),
		Buildings: BuildingsQuery(bbox),
		Amenities: AmenitiesQuery(bbox),
	}
}
