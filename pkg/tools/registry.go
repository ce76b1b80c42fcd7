// Package tools exposes the urban analysis pipeline as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/monitoring"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

// PlaceResolver turns place text into an analysis box.
type PlaceResolver interface {
	Resolve(ctx context.Context, text string) (osm.Place, error)
}

// Registry contains all tool definitions and handlers
type Registry struct {
	logger   *slog.Logger
	analyzer *analysis.Analyzer
	resolver PlaceResolver
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithResolver enables analyze_place
func WithResolver(resolver PlaceResolver) RegistryOption {
	return func(r *Registry) { r.resolver = resolver }
}

// NewRegistry creates a new tool registry backed by analyzer.
func NewRegistry(logger *slog.Logger, analyzer *analysis.Analyzer, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:   logger,
		analyzer: analyzer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     server.ToolHandlerFunc
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version information for this server",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},
		{
			Name:        "analyze_bbox",
			Description: "Compute infrastructure metrics, a socio-economic score and a narrative for a bounding box. Parameters: bbox (array [min_lon, min_lat, max_lon, max_lat]), include_features (boolean), retries (number)",
			Tool:        AnalyzeBBoxTool(),
			Handler:     r.HandleAnalyzeBBox,
		},
		{
			Name:        "analyze_place",
			Description: "Resolve a place name or \"lat, lon\" text to a bounding box and analyze it. Parameters: place (string), question (string), include_features (boolean), retries (number)",
			Tool:        AnalyzePlaceTool(),
			Handler:     r.HandleAnalyzePlace,
		},
		{
			Name:        "build_profile_queries",
			Description: "Return the roads, buildings and amenities Overpass queries for a bounding box without running them. Parameters: bbox (array)",
			Tool:        BuildProfileQueriesTool(),
			Handler:     HandleBuildProfileQueries,
		},
		{
			Name:        "score_metrics",
			Description: "Score precomputed density metrics and grade them. Parameters: roads_km_per_km2, intersections_per_km2, hospitals_per_km2, schools_per_km2, buildings_per_km2 (numbers)",
			Tool:        ScoreMetricsTool(),
			Handler:     HandleScoreMetrics,
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing wraps a tool handler with a span and request metrics.
func (r *Registry) wrapWithTracing(toolName string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spanName := fmt.Sprintf("mcp.tool.%s", toolName)
		ctx, span := tracing.StartSpan(ctx, spanName,
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		startTime := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(startTime)

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, duration.Milliseconds(), resultSize)...)
		monitoring.RecordMCPRequest(toolName, duration, status == tracing.StatusSuccess)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterAll registers all tools and prompts with the MCP server.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
	r.RegisterPrompts(mcpServer)
}
