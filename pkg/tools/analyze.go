package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/osm/queries"
)

const bboxDescription = "Bounding box as [min_lon, min_lat, max_lon, max_lat] in WGS84 degrees"

// AnalyzeBBoxTool returns a tool definition for the bounding box analysis
func AnalyzeBBoxTool() mcp.Tool {
	return mcp.NewTool("analyze_bbox",
		mcp.WithDescription("Fetch roads, buildings and amenities inside a bounding box and return infrastructure metrics, a composite socio-economic score (0-100) and a short narrative"),
		mcp.WithArray("bbox",
			mcp.Required(),
			mcp.Description(bboxDescription),
			mcp.WithNumberItems(),
			mcp.MinItems(4),
			mcp.MaxItems(4),
		),
		mcp.WithBoolean("include_features",
			mcp.Description("Include the fetched GeoJSON feature collections in the response"),
			mcp.DefaultBool(false),
		),
		mcp.WithNumber("retries",
			mcp.Description("Retries per map data request after the first attempt (0-5)"),
		),
	)
}

// HandleAnalyzeBBox runs the analysis pipeline for the requested box.
func (r *Registry) HandleAnalyzeBBox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "analyze_bbox")

	if r.analyzer == nil {
		return core.NewError(core.ErrServiceUnavailable, "analysis is not configured").ToMCPResult(), nil
	}

	args := req.GetArguments()
	bbox, err := geo.ParseBoundingBox(args["bbox"])
	if err != nil {
		logger.Error("invalid bbox", "error", err)
		return core.ToMCPError(err).ToMCPResult(), nil
	}

	result, errResult, err := r.analyze(ctx, req, logger, bbox)
	if errResult != nil || err != nil {
		return errResult, err
	}

	out, err := JSONResult(result)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return out, nil
}

// analyze runs the pipeline on bbox honouring the request's retries and
// include_features arguments. A canceled context is returned as an error;
// every other failure becomes an error result.
func (r *Registry) analyze(ctx context.Context, req mcp.CallToolRequest, logger *slog.Logger, bbox geo.BoundingBox) (*analysis.Result, *mcp.CallToolResult, error) {
	analyzer := r.analyzer
	if _, ok := req.GetArguments()["retries"]; ok {
		retries, err := core.ParseRetriesWithLog(req, logger, "retries", 0)
		if err != nil {
			return nil, core.ToMCPError(err).ToMCPResult(), nil
		}
		analyzer = analyzer.WithRetries(retries)
	}

	result, err := analyzer.AnalyzeBBox(ctx, bbox)
	if err != nil {
		logger.Error("analysis failed", "error", err)
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, core.ToMCPError(err).ToMCPResult(), nil
	}

	if !mcp.ParseBoolean(req, "include_features", false) {
		result = result.WithoutFeatures()
	}
	return result, nil, nil
}

// BuildProfileQueriesInput is the input of build_profile_queries
type BuildProfileQueriesInput struct {
	BBox *geo.BoundingBox `json:"bbox"`
}

// BuildProfileQueriesTool returns a tool definition for previewing the queries
func BuildProfileQueriesTool() mcp.Tool {
	return mcp.NewTool("build_profile_queries",
		mcp.WithDescription("Build the three Overpass queries used by analyze_bbox without sending them"),
		mcp.WithArray("bbox",
			mcp.Required(),
			mcp.Description(bboxDescription),
			mcp.WithNumberItems(),
			mcp.MinItems(4),
			mcp.MaxItems(4),
		),
	)
}

// HandleBuildProfileQueries returns the profile queries for a box.
var HandleBuildProfileQueries = WithParsedInput("build_profile_queries",
	func(ctx context.Context, input BuildProfileQueriesInput, logger *slog.Logger) (any, error) {
		if input.BBox == nil {
			return nil, core.ValidationError{
				Code:    string(core.ErrMissingParameter),
				Message: "bbox is required",
			}
		}
		return queries.ProfileQueries(*input.BBox), nil
	})

// ScoreMetricsInput holds precomputed densities per km².
type ScoreMetricsInput struct {
	RoadsKmPerKm2       float64 `json:"roads_km_per_km2" validate:"gte=0"`
	IntersectionsPerKm2 float64 `json:"intersections_per_km2" validate:"gte=0"`
	HospitalsPerKm2     float64 `json:"hospitals_per_km2" validate:"gte=0"`
	SchoolsPerKm2       float64 `json:"schools_per_km2" validate:"gte=0"`
	BuildingsPerKm2     float64 `json:"buildings_per_km2" validate:"gte=0"`
}

// ScoreMetricsOutput is the result of score_metrics
type ScoreMetricsOutput struct {
	SocioEconScore float64             `json:"SocioEconScore"`
	InfraIndex     float64             `json:"infra_index"`
	AccessIndex    float64             `json:"access_index"`
	Assessment     analysis.Assessment `json:"assessment"`
}

// ScoreMetricsTool returns a tool definition for scoring known densities
func ScoreMetricsTool() mcp.Tool {
	return mcp.NewTool("score_metrics",
		mcp.WithDescription("Compute the composite socio-economic score and qualitative grades from density metrics"),
		mcp.WithNumber("roads_km_per_km2", mcp.Required(), mcp.Description("Road length per km²")),
		mcp.WithNumber("intersections_per_km2", mcp.Required(), mcp.Description("Road intersections per km²")),
		mcp.WithNumber("hospitals_per_km2", mcp.Required(), mcp.Description("Hospitals per km²")),
		mcp.WithNumber("schools_per_km2", mcp.Required(), mcp.Description("Schools per km²")),
		mcp.WithNumber("buildings_per_km2", mcp.Description("Buildings per km², used for grading only")),
	)
}

// HandleScoreMetrics scores the given densities.
var HandleScoreMetrics = WithParsedInput("score_metrics",
	func(ctx context.Context, input ScoreMetricsInput, logger *slog.Logger) (any, error) {
		b := core.ComposeScore(core.ScoreInputs{
			RoadsKmPerKm2:       input.RoadsKmPerKm2,
			IntersectionsPerKm2: input.IntersectionsPerKm2,
			HospitalsPerKm2:     input.HospitalsPerKm2,
			SchoolsPerKm2:       input.SchoolsPerKm2,
		})
		score := core.Round(b.Score, 1)
		logger.Debug("scored metrics", "score", score)

		return ScoreMetricsOutput{
			SocioEconScore: score,
			InfraIndex:     core.Round(b.Infrastructure, 4),
			AccessIndex:    core.Round(b.Access, 4),
			Assessment: analysis.Assess(analysis.Metrics{
				RoadsKmPerKm2:       input.RoadsKmPerKm2,
				BuildingsPerKm2:     input.BuildingsPerKm2,
				IntersectionsPerKm2: input.IntersectionsPerKm2,
				HospitalsPerKm2:     input.HospitalsPerKm2,
				SchoolsPerKm2:       input.SchoolsPerKm2,
				SocioEconScore:      score,
			}),
		}, nil
	})
