package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	// MCP tool attributes
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.tool.result_size"

	// External service attributes
	AttrService          = "urban.service.name"
	AttrServiceOperation = "urban.service.operation"
	AttrServiceURL       = "urban.service.url"
	AttrServiceStatus    = "urban.service.status"

	// Analysis attributes
	AttrBBox          = "urban.bbox"
	AttrAreaKm2       = "urban.area_km2"
	AttrFeatureCount  = "urban.feature_count"
	AttrLayer         = "urban.layer"
	AttrScore         = "urban.score"
	AttrNarrativeMode = "urban.narrative.status"

	// Overpass and geocoding attributes
	AttrOverpassRemark = "urban.overpass.remark"
	AttrPlace          = "urban.place"
	AttrPlaceSource    = "urban.place.source"

	// Rate limiting attributes
	AttrRateLimitService = "urban.ratelimit.service"
	AttrRateLimitWaitMs  = "urban.ratelimit.wait_ms"

	// HTTP transport attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPSessionID  = "http.session_id"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// Service names
const (
	ServiceOverpass  = "overpass"
	ServiceNarrative = "narrative"
	ServiceNominatim = "nominatim"
)

// MCPToolAttributes returns attributes for MCP tool execution
func MCPToolAttributes(toolName string, status string, durationMs int64, resultSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPToolStatus, status),
		attribute.Int64(AttrMCPToolDuration, durationMs),
		attribute.Int(AttrMCPResultSize, resultSize),
	}
}

// ServiceAttributes returns attributes for external service calls
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrService, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// LayerAttributes returns attributes describing one fetched feature layer
func LayerAttributes(layer string, features int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLayer, layer),
		attribute.Int(AttrFeatureCount, features),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
