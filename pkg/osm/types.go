// Package osm fetches and converts OpenStreetMap data from the Overpass API.
package osm

import (
	"strings"

	gosm "github.com/paulmach/osm"
)

// Element types as reported by Overpass.
const (
	TypeNode     = gosm.TypeNode
	TypeWay      = gosm.TypeWay
	TypeRelation = gosm.TypeRelation
)

// LatLon is a single vertex of a way's inline geometry.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element represents an element returned from the Overpass API.
// Ways carry Geometry when the query used 'out geom'.
type Element struct {
	Type     gosm.Type         `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat,omitempty"`
	Lon      float64           `json:"lon,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Nodes    []int64           `json:"nodes,omitempty"`
	Geometry []*LatLon         `json:"geometry,omitempty"`
	Members  []Member          `json:"members,omitempty"`
}

// Member is a relation member. Relations are never converted to features.
type Member struct {
	Type gosm.Type `json:"type"`
	Ref  int64     `json:"ref"`
	Role string    `json:"role"`
}

// Response is the JSON document returned by the Overpass interpreter.
type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

// RemarkIsRuntimeError reports whether the interpreter aborted the query,
// e.g. "runtime error: Query timed out in \"query\" at line 3 after 61 seconds."
func (r *Response) RemarkIsRuntimeError() bool {
	return strings.Contains(strings.ToLower(r.Remark), "runtime error")
}

// FeatureID returns the element's typed OSM identifier, e.g. "way/42".
func (e Element) FeatureID() gosm.FeatureID {
	switch e.Type {
	case TypeNode:
		return gosm.NodeID(e.ID).FeatureID()
	case TypeWay:
		return gosm.WayID(e.ID).FeatureID()
	case TypeRelation:
		return gosm.RelationID(e.ID).FeatureID()
	default:
		return 0
	}
}
