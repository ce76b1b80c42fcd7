// Package queries builds the Overpass QL queries used by the urban profile.
package queries

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

// DefaultTimeout is the server-side Overpass timeout in seconds.
const DefaultTimeout = 60

// Tag is a single tag filter. An empty Value only checks for the key.
type Tag struct {
	Key   string
	Value string
}

// String renders the tag as an Overpass filter.
func (t Tag) String() string {
	if t.Value == "" {
		return fmt.Sprintf("[%s]", t.Key)
	}
	return fmt.Sprintf("[%s=%s]", t.Key, t.Value)
}

// OverpassBuilder provides a fluent interface for building Overpass API queries.
// Statements are emitted in the order they are added so output is stable.
type OverpassBuilder struct {
	timeout    int
	statements []string
	output     string
}

// NewOverpassBuilder creates a new Overpass query builder requesting JSON
// output with the default timeout.
func NewOverpassBuilder() *OverpassBuilder {
	return &OverpassBuilder{
		timeout: DefaultTimeout,
		output:  "body",
	}
}

// WithTimeout sets the server-side timeout in seconds. Zero omits it.
func (b *OverpassBuilder) WithTimeout(seconds int) *OverpassBuilder {
	b.timeout = seconds
	return b
}

// WithNodeInBbox adds a node statement within the box with the given tag filters.
func (b *OverpassBuilder) WithNodeInBbox(bbox geo.BoundingBox, tags ...Tag) *OverpassBuilder {
	return b.addElement("node", bbox, tags)
}

// WithWayInBbox adds a way statement within the box with the given tag filters.
func (b *OverpassBuilder) WithWayInBbox(bbox geo.BoundingBox, tags ...Tag) *OverpassBuilder {
	return b.addElement("way", bbox, tags)
}

// WithRelationInBbox adds a relation statement within the box with the given tag filters.
func (b *OverpassBuilder) WithRelationInBbox(bbox geo.BoundingBox, tags ...Tag) *OverpassBuilder {
	return b.addElement("relation", bbox, tags)
}

// WithOutput specifies the output mode (default is 'body').
// Common options include 'body', 'center', 'geom'.
func (b *OverpassBuilder) WithOutput(outputType string) *OverpassBuilder {
	b.output = outputType
	return b
}

// Build returns the complete Overpass query string.
func (b *OverpassBuilder) Build() string {
	var buf strings.Builder
	buf.WriteString("[out:json]")
	if b.timeout > 0 {
		fmt.Fprintf(&buf, "[timeout:%d]", b.timeout)
	}
	buf.WriteString(";(")
	for _, s := range b.statements {
		buf.WriteString(s)
	}
	fmt.Fprintf(&buf, ");out %s;", b.output)
	return buf.String()
}

func (b *OverpassBuilder) addElement(kind string, bbox geo.BoundingBox, tags []Tag) *OverpassBuilder {
	var stmt strings.Builder
	stmt.WriteString(kind)
	stmt.WriteString(BBoxFilter(bbox))
	for _, t := range tags {
		stmt.WriteString(t.String())
	}
	stmt.WriteString(";")
	b.statements = append(b.statements, stmt.String())
	return b
}

// BBoxFilter renders the box in Overpass (south,west,north,east) order.
func BBoxFilter(bbox geo.BoundingBox) string {
	return "(" + strings.Join([]string{
		formatCoord(bbox.MinLat),
		formatCoord(bbox.MinLon),
		formatCoord(bbox.MaxLat),
		formatCoord(bbox.MaxLon),
	}, ",") + ")"
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
