package analysis

import (
	"fmt"
	"strings"

	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

// BuildPrompt renders the narrative request for a finished profile.
func BuildPrompt(bbox geo.BoundingBox, m Metrics) string {
	var b strings.Builder

	b.WriteString("Analyze this area for infrastructure development using the metrics below, ")
	b.WriteString("derived from OpenStreetMap data.\n\n")

	b.WriteString("AREA OVERVIEW:\n")
	fmt.Fprintf(&b, "- Geographic area: %.1f km²\n", m.AreaKm2)
	fmt.Fprintf(&b, "- Bounding box [minLon, minLat, maxLon, maxLat]: [%s]\n\n", bbox.String())

	b.WriteString("INFRASTRUCTURE METRICS:\n")
	fmt.Fprintf(&b, "- Road density: %.2f km/km²\n", m.RoadsKmPerKm2)
	fmt.Fprintf(&b, "- Total roads: %.1f km\n", m.RoadsKm)
	fmt.Fprintf(&b, "- Building count: %d\n", m.BuildingsCount)
	fmt.Fprintf(&b, "- Building density: %.1f buildings/km²\n", m.BuildingsPerKm2)
	fmt.Fprintf(&b, "- Intersection density: %.1f intersections/km²\n\n", m.IntersectionsPerKm2)

	b.WriteString("SERVICE AVAILABILITY:\n")
	fmt.Fprintf(&b, "- Hospital density: %.4f hospitals/km²\n", m.HospitalsPerKm2)
	fmt.Fprintf(&b, "- School density: %.4f schools/km²\n", m.SchoolsPerKm2)
	fmt.Fprintf(&b, "- Composite socio-economic score: %.1f/100\n\n", m.SocioEconScore)

	b.WriteString("Cover, in order:\n")
	for i, topic := range promptTopics {
		fmt.Fprintf(&b, "%d. %s\n", i+1, topic)
	}
	b.WriteString("\nWrite for a community leader: plain language, no jargon, practical recommendations.")

	return b.String()
}

var promptTopics = []string{
	"Infrastructure development status",
	"Quality of life",
	"Road network strengths and gaps",
	"Commercial and industrial potential",
	"Community services: healthcare, education and amenities",
	"Development priorities",
}
