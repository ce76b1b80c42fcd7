package analysis

import "math"

// Rating is a qualitative grade for one aspect of an area.
type Rating struct {
	Level   string `json:"level"`
	Summary string `json:"summary"`
}

// Assessment grades the metrics against fixed thresholds. It needs no
// external service and is always present in a Result.
type Assessment struct {
	RoadNetwork       Rating  `json:"road_network"`
	Connectivity      Rating  `json:"connectivity"`
	Mobility          Rating  `json:"mobility"`
	BuildingDensity   Rating  `json:"building_density"`
	Healthcare        Rating  `json:"healthcare"`
	Education         Rating  `json:"education"`
	QualityOfLife     Rating  `json:"quality_of_life"`
	InfrastructurePct float64 `json:"infrastructure_pct"`
	Development       Rating  `json:"development"`
}

type band struct {
	above   float64
	level   string
	summary string
}

// grade returns the first band whose threshold v exceeds, or the last band.
func grade(v float64, bands []band) Rating {
	for _, b := range bands[:len(bands)-1] {
		if v > b.above {
			return Rating{Level: b.level, Summary: b.summary}
		}
	}
	last := bands[len(bands)-1]
	return Rating{Level: last.level, Summary: last.summary}
}

var (
	roadBands = []band{
		{20, "Excellent", "Comprehensive road network with high connectivity"},
		{12, "Good", "Well developed road network with good connectivity"},
		{6, "Moderate", "Moderate road network with basic connectivity"},
		{0, "Basic", "Basic road network with limited connectivity"},
	}
	intersectionBands = []band{
		{20, "Excellent", "Dense street grid linking neighbourhoods"},
		{10, "Good", "Good connectivity between areas"},
		{0, "Basic", "Few junctions; routes between areas are indirect"},
	}
	buildingBands = []band{
		{150, "High", "Dense built-up area with strong commercial potential"},
		{80, "Medium", "Moderately built-up area with room to grow"},
		{0, "Low", "Sparse development"},
	}
	hospitalBands = []band{
		{0.5, "Excellent", "High accessibility to medical care"},
		{0.2, "Good", "Moderate accessibility to medical care"},
		{0, "Limited", "Limited accessibility to medical care"},
	}
	schoolBands = []band{
		{0.4, "Excellent", "High accessibility to education"},
		{0.2, "Good", "Moderate accessibility to education"},
		{0, "Limited", "Limited accessibility to education"},
	}
	scoreBands = []band{
		{60, "High", "Modern amenities within easy reach"},
		{30, "Medium", "Basic amenities with gaps in coverage"},
		{0, "Basic", "Significant room for improvement"},
	}
	developmentBands = []band{
		{70, "Advanced", "Well developed infrastructure"},
		{40, "Developing", "Infrastructure is expanding"},
		{0, "Early", "Infrastructure is at an early stage"},
	}
)

// Assess grades m. The infrastructure percentage averages road, building
// and intersection coverage, each scaled against its own band ceiling.
func Assess(m Metrics) Assessment {
	a := Assessment{
		RoadNetwork:     grade(m.RoadsKmPerKm2, roadBands),
		Connectivity:    grade(m.IntersectionsPerKm2, intersectionBands),
		BuildingDensity: grade(m.BuildingsPerKm2, buildingBands),
		Healthcare:      grade(m.HospitalsPerKm2, hospitalBands),
		Education:       grade(m.SchoolsPerKm2, schoolBands),
		QualityOfLife:   grade(m.SocioEconScore, scoreBands),
	}

	switch {
	case m.RoadsKmPerKm2 > 15 && m.IntersectionsPerKm2 > 15:
		a.Mobility = Rating{Level: "Excellent", Summary: "Suited to public transport development"}
	case m.RoadsKmPerKm2 > 10 && m.IntersectionsPerKm2 > 8:
		a.Mobility = Rating{Level: "Good", Summary: "Suitable for public transport"}
	default:
		a.Mobility = Rating{Level: "Limited", Summary: "Basic transport infrastructure"}
	}

	pct := (coverage(m.RoadsKmPerKm2, 15, 8, 25, 15, 8) +
		coverage(m.BuildingsPerKm2, 150, 80, 300, 150, 80) +
		coverage(m.IntersectionsPerKm2, 20, 10, 40, 20, 10)) / 3
	a.InfrastructurePct = math.Round(pct*10) / 10
	a.Development = grade(a.InfrastructurePct, developmentBands)
	return a
}

// coverage scales v against the ceiling of the band it falls in.
func coverage(v, high, medium, highCeil, mediumCeil, lowCeil float64) float64 {
	ceil := lowCeil
	switch {
	case v > high:
		ceil = highCeil
	case v > medium:
		ceil = mediumCeil
	}
	return math.Min(100, v/ceil*100)
}
