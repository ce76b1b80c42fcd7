package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/urbanmcp/pkg/geo"
)

// UrbanProfilePrompt returns the prompt that walks a client through an area
// profile.
func UrbanProfilePrompt() mcp.Prompt {
	return mcp.NewPrompt("urban_profile",
		mcp.WithPromptDescription("Profile the urban infrastructure of a bounding box"),
		mcp.WithArgument("bbox",
			mcp.ArgumentDescription("min_lon,min_lat,max_lon,max_lat"),
			mcp.RequiredArgument(),
		),
	)
}

// HandleUrbanProfilePrompt renders the urban_profile prompt.
func HandleUrbanProfilePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	bbox, err := geo.ParseBoundingBoxString(req.Params.Arguments["bbox"])
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf(
		"Call the analyze_bbox tool with bbox [%s]. Using the returned metrics, score and assessment, "+
			"describe the road network, building density, access to hospitals and schools, and "+
			"the most pressing development priorities for the area. Quote the numbers you rely on.",
		bbox.String())

	return mcp.NewGetPromptResult(
		"Urban infrastructure profile",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
		},
	), nil
}

// RegisterPrompts registers all prompts with the MCP server.
func (r *Registry) RegisterPrompts(mcpServer *server.MCPServer) {
	r.logger.Info("registering prompts")
	mcpServer.AddPrompt(UrbanProfilePrompt(), HandleUrbanProfilePrompt)
}
