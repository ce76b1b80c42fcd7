package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

// resultText returns the first text block of a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

// parseResult fails the test unless result is a successful tool result
// whose text decodes into T.
func parseResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	text := resultText(t, result)
	require.False(t, result.IsError, "unexpected tool error: %s", text)

	var out T
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out
}

// assertMCPError fails the test unless result is a tool error carrying an
// MCPError with the given code.
func assertMCPError(t *testing.T, result *mcp.CallToolResult, code core.ErrorCode) core.MCPError {
	t.Helper()
	text := resultText(t, result)
	require.True(t, result.IsError, "expected a tool error, got: %s", text)

	var mcpErr core.MCPError
	require.NoError(t, json.Unmarshal([]byte(text), &mcpErr), text)
	assert.Equal(t, string(code), mcpErr.Code)
	return mcpErr
}
