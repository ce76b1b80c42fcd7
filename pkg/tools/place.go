package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
)

// PlaceAnalysis is the result of analyze_place.
type PlaceAnalysis struct {
	Place           osm.Place               `json:"place"`
	Classification  analysis.Classification `json:"classification"`
	Recommendations []string                `json:"recommendations"`
	Result          *analysis.Result        `json:"result"`
}

// AnalyzePlaceTool returns a tool definition for analyzing a named place
func AnalyzePlaceTool() mcp.Tool {
	return mcp.NewTool("analyze_place",
		mcp.WithDescription("Resolve a city, neighbourhood or \"lat, lon\" text to a bounding box, then return the same metrics, score and narrative as analyze_bbox along with follow-up recommendations"),
		mcp.WithString("place",
			mcp.Required(),
			mcp.Description("Place name (e.g. \"Pune\") or coordinates as \"lat, lon\""),
		),
		mcp.WithString("question",
			mcp.Description("Optional question about the place, used to pick recommendations"),
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

// HandleAnalyzePlace resolves the place and runs the analysis on its box.
func (r *Registry) HandleAnalyzePlace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "analyze_place")

	if r.analyzer == nil || r.resolver == nil {
		return core.NewError(core.ErrServiceUnavailable, "place analysis is not configured").ToMCPResult(), nil
	}

	text := strings.TrimSpace(mcp.ParseString(req, "place", ""))
	if text == "" {
		return core.NewError(core.ErrMissingParameter, "place is required").
			WithGuidance("Name a city or give coordinates as \"lat, lon\"").
			ToMCPResult(), nil
	}

	place, err := r.resolver.Resolve(ctx, text)
	if err != nil {
		logger.Warn("could not resolve place", "place", text, "error", err)
		return core.ToMCPError(err).ToMCPResult(), nil
	}
	logger.Info("resolved place", "place", text, "source", place.Source, "bbox", place.BBox.String())

	result, errResult, err := r.analyze(ctx, req, logger, place.BBox)
	if errResult != nil || err != nil {
		return errResult, err
	}

	// Without a question the place text itself is classified.
	question := mcp.ParseString(req, "question", text)
	class := analysis.ClassifyQuery(question)

	out, err := JSONResult(PlaceAnalysis{
		Place:           place,
		Classification:  class,
		Recommendations: analysis.Recommendations(class.Category),
		Result:          result,
	})
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return out, nil
}
