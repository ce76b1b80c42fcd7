package analysis

import (
	"strings"
	"unicode"
)

// Query categories
const (
	CategoryInfrastructure = "infrastructure"
	CategoryQualityOfLife  = "quality_of_life"
	CategoryRoadConditions = "road_conditions"
	CategoryIndustry       = "industry"
	CategoryComparison     = "comparison"
	CategoryGeneral        = "general"
)

// Classification is a keyword reading of a free text question about an
// area. It steers which recommendations accompany a place analysis.
type Classification struct {
	Category           string   `json:"query_category"`
	Intent             string   `json:"query_intent"`
	AnalysisType       string   `json:"analysis_type"`
	Priority           string   `json:"priority_level"`
	Metrics            []string `json:"specific_metrics"`
	RequiresComparison bool     `json:"requires_comparison"`
	Confidence         float64  `json:"confidence"`
}

type keywordRule struct {
	label    string
	keywords []string
}

// First match wins.
var categoryRules = []keywordRule{
	{CategoryInfrastructure, []string{"road", "building", "intersection", "infrastructure", "development"}},
	{CategoryQualityOfLife, []string{"healthcare", "hospital", "school", "education", "quality", "life", "amenity", "amenities"}},
	{CategoryRoadConditions, []string{"traffic", "transportation", "connectivity", "road condition"}},
	{CategoryIndustry, []string{"commercial", "residential", "business", "industrial", "store"}},
	{CategoryComparison, []string{"compare", "versus", "vs", "difference", "between"}},
}

var intentRules = []keywordRule{
	{"comparison", []string{"compare", "versus", "vs", "difference"}},
	{"prediction", []string{"predict", "future", "will", "going to"}},
	{"analysis", []string{"analyze", "analyse", "analysis", "detailed"}},
	{"assessment", []string{"assess", "status", "current", "how"}},
}

// Every matching rule contributes.
var metricRules = []keywordRule{
	{"roads", []string{"road", "highway", "street"}},
	{"buildings", []string{"building", "structure"}},
	{"hospitals", []string{"hospital", "medical", "clinic"}},
	{"schools", []string{"school", "education", "university"}},
	{"intersections", []string{"intersection", "crossing", "junction"}},
}

var recommendations = map[string][]string{
	CategoryInfrastructure: {"Analyze road network density", "Assess building infrastructure", "Evaluate intersection quality"},
	CategoryQualityOfLife:  {"Check healthcare accessibility", "Evaluate educational facilities", "Assess amenity coverage"},
	CategoryRoadConditions: {"Analyze traffic patterns", "Assess road connectivity", "Evaluate transportation infrastructure"},
	CategoryIndustry:       {"Analyze commercial development", "Assess residential infrastructure", "Evaluate industrial potential"},
	CategoryComparison:     {"Generate comparative reports", "Create visualization charts", "Provide ranking analysis"},
	CategoryGeneral:        {"Conduct comprehensive analysis", "Generate overview report", "Create development roadmap"},
}

// ClassifyQuery reads category, intent and the metrics of interest from
// question. Keywords match at the start of a word, so "roads" counts as
// "road" but "obvious" does not count as "vs".
func ClassifyQuery(question string) Classification {
	text := normalize(question)

	c := Classification{
		Category:     firstMatch(text, categoryRules, CategoryGeneral),
		Intent:       firstMatch(text, intentRules, "information"),
		AnalysisType: "statistical",
		Priority:     "medium",
		Metrics:      []string{},
		Confidence:   0.8,
	}
	if containsAny(text, "area", "location") {
		c.AnalysisType = "spatial"
	}
	if containsAny(text, "urgent", "important", "critical") {
		c.Priority = "high"
	}
	for _, rule := range metricRules {
		if containsAny(text, rule.keywords...) {
			c.Metrics = append(c.Metrics, rule.label)
		}
	}
	c.RequiresComparison = c.Intent == "comparison"
	if c.Category == CategoryGeneral {
		c.Confidence = 0.6
	}
	return c
}

// Recommendations lists follow-up actions for a query category.
func Recommendations(category string) []string {
	if recs, ok := recommendations[category]; ok {
		return append([]string(nil), recs...)
	}
	return []string{"Analyze the area", "Generate report", "Provide insights"}
}

// normalize lowercases s and collapses everything but letters and digits
// to single spaces, with a leading space so every word starts after one.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return b.String()
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, " "+kw) {
			return true
		}
	}
	return false
}

func firstMatch(text string, rules []keywordRule, fallback string) string {
	for _, rule := range rules {
		if containsAny(text, rule.keywords...) {
			return rule.label
		}
	}
	return fallback
}
