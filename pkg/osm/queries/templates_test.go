package queries

import (
	"strings"
	"testing"

	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

func TestOverpassBuilder_Simple(t *testing.T) {
	q := NewOverpassBuilder().
		WithNodeInBbox(geo.NewBoundingBox(2, 1, 4, 3), Tag{Key: "amenity", Value: "cafe"}).
		Build()
	expected := "[out:json][timeout:60];(node(1,2,3,4)[amenity=cafe];);out body;"
	if q != expected {
		t.Errorf("unexpected query: %s", q)
	}
}

func TestOverpassBuilder_CustomOutput(t *testing.T) {
	q := NewOverpassBuilder().
		WithTimeout(0).
		WithWayInBbox(geo.NewBoundingBox(0, 0, 1, 1), Tag{Key: "highway", Value: "bus_stop"}).
		WithOutput("geom").
		Build()
	expected := "[out:json];(way(0,0,1,1)[highway=bus_stop];);out geom;"
	if q != expected {
		t.Errorf("unexpected query: %s", q)
	}
}

func TestOverpassBuilder_TagOrder(t *testing.T) {
	q := NewOverpassBuilder().
		WithRelationInBbox(geo.NewBoundingBox(0, 0, 1, 1),
			Tag{Key: "type", Value: "route"},
			Tag{Key: "route", Value: "bus"},
			Tag{Key: "name"}).
		Build()
	if !strings.Contains(q, "relation(0,0,1,1)[type=route][route=bus][name];") {
		t.Errorf("tags out of order: %s", q)
	}
}

func TestBBoxFilter(t *testing.T) {
	got := BBoxFilter(geo.NewBoundingBox(-0.1278, 51.5074, -0.1, 51.52))
	if got != "(51.5074,-0.1278,51.52,-0.1)" {
		t.Errorf("unexpected filter: %s", got)
	}
}

func TestProfileQueries(t *testing.T) {
	bbox := geo.NewBoundingBox(13.37, 52.50, 13.40, 52.52)
	p := ProfileQueries(bbox)

	wantRoads := "[out:json][timeout:60];(way(52.5,13.37,52.52,13.4)[highway];);out geom;"
	if p.Roads != wantRoads {
		t.Errorf("roads query = %s", p.Roads)
	}

	wantBuildings := "[out:json][timeout:60];(way(52.5,13.37,52.52,13.4)[building];);out geom;"
	if p.Buildings != wantBuildings {
		t.Errorf("buildings query = %s", p.Buildings)
	}

	for _, filter := range []string{
		"node(52.5,13.37,52.52,13.4)[amenity=hospital];",
		"node(52.5,13.37,52.52,13.4)[amenity=clinic];",
		"node(52.5,13.37,52.52,13.4)[amenity=school];",
		"node(52.5,13.37,52.52,13.4)[amenity=university];",
		"node(52.5,13.37,52.52,13.4)[public_transport=station];",
		"node(52.5,13.37,52.52,13.4)[highway=bus_stop];",
	} {
		if !strings.Contains(p.Amenities, filter) {
			t.Errorf("amenities query missing %s: %s", filter, p.Amenities)
		}
	}
	if !strings.HasSuffix(p.Amenities, ");out body;") {
		t.Errorf("amenities query must output body: %s", p.Amenities)
	}

	for _, layer := range Layers {
		if p.Get(layer) == "" {
			t.Errorf("no query for layer %s", layer)
		}
	}
	if p.Get("unknown") != "" {
		t.Error("unknown layer should have no query")
	}

	// Pure: same input, same output.
	if ProfileQueries(bbox) != p {
		t.Error("queries are not deterministic")
	}
}
