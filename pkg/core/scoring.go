package core

import (
	"math"
)

// normEpsilon keeps NormClip finite when lo == hi.
const normEpsilon = 1e-9

// Saturation ranges for each score input. Values at or beyond hi score 1.
const (
	RoadDensityMax         = 10.0 // km of road per km²
	IntersectionDensityMax = 200.0
	HospitalDensityMax     = 5.0
	SchoolDensityMax       = 8.0
)

// ScoreWeight represents a weight for a specific category in a scoring algorithm
type ScoreWeight struct {
	Category string  // Name of the category
	Weight   float64 // Weight multiplier
}

// CompositeWeights are the category weights of the composite score.
// They sum to 1.
var CompositeWeights = []ScoreWeight{
	{Category: "infrastructure", Weight: 0.35},
	{Category: "access", Weight: 0.35},
	{Category: "activity", Weight: 0.2},
	{Category: "green", Weight: 0.1},
}

// NormClip maps x linearly from [lo, hi] onto [0, 1] and clamps the result.
// NaN maps to 0.
func NormClip(x, lo, hi float64) float64 {
	v := (x - lo) / (hi - lo + normEpsilon)
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// ScoreInputs are the density metrics the composite score is built from.
type ScoreInputs struct {
	RoadsKmPerKm2       float64
	IntersectionsPerKm2 float64
	HospitalsPerKm2     float64
	SchoolsPerKm2       float64
}

// ScoreBreakdown holds the sub-indices and the final composite score.
type ScoreBreakdown struct {
	Infrastructure float64 `json:"infra_index"`
	Access         float64 `json:"access_index"`
	Activity       float64 `json:"activity_index"`
	Green          float64 `json:"green_index"`
	Score          float64 `json:"score"`
}

// ComposeScore combines density metrics into a score in [0, 100].
// Activity and green indices are reserved and currently always zero.
func ComposeScore(in ScoreInputs) ScoreBreakdown {
	b := ScoreBreakdown{
		Infrastructure: 0.5*NormClip(in.RoadsKmPerKm2, 0, RoadDensityMax) +
			0.5*NormClip(in.IntersectionsPerKm2, 0, IntersectionDensityMax),
		Access: 0.5*NormClip(in.HospitalsPerKm2, 0, HospitalDensityMax) +
			0.5*NormClip(in.SchoolsPerKm2, 0, SchoolDensityMax),
	}

	indices := map[string]float64{
		"infrastructure": b.Infrastructure,
		"access":         b.Access,
		"activity":       b.Activity,
		"green":          b.Green,
	}
	b.Score = 100 * WeightedIndex(indices, CompositeWeights)
	return b
}

// WeightedIndex sums weight*index over the given categories. Missing
// categories contribute zero.
func WeightedIndex(indices map[string]float64, weights []ScoreWeight) float64 {
	var total float64
	for _, w := range weights {
		total += indices[w.Category] * w.Weight
	}
	return total
}

// Round rounds x to the given number of decimals, half away from zero.
func Round(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}
