package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/monitoring"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr           string // listen address, e.g. ":7082"
	BaseURL        string // advertised base URL; derived from the request when empty
	AuthToken      string // bearer token; empty disables auth
	MCPEndpoint    string // streamable HTTP endpoint path
	RateLimit      int    // requests per minute per client IP, 0 disables
	MaxRequestSize int64  // request body limit in bytes
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		MCPEndpoint:    "/mcp",
		RateLimit:      60,
		MaxRequestSize: 1 << 20,
	}
}

// HTTPTransport serves MCP over streamable HTTP next to health checks and
// the REST API.
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	server        *Server
	streamable    *mcpserver.StreamableHTTPServer
	handler       http.Handler
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker

	mu      sync.RWMutex
	httpSrv *http.Server
}

// NewHTTPTransport creates a new HTTP transport instance
func NewHTTPTransport(s *Server, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPTransportConfig()
	if config.MCPEndpoint == "" {
		config.MCPEndpoint = defaults.MCPEndpoint
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaults.MaxRequestSize
	}

	t := &HTTPTransport{
		config:      config,
		logger:      logger.With("component", "http_transport"),
		server:      s,
		rateLimiter: PerMinute(config.RateLimit),
	}
	t.streamable = mcpserver.NewStreamableHTTPServer(
		s.GetMCPServer(),
		mcpserver.WithEndpointPath(config.MCPEndpoint),
		mcpserver.WithHeartbeatInterval(30*time.Second),
	)
	t.handler = t.buildHandler()
	return t
}

// SetHealthChecker sets the health checker backing /health, /ready and /live
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

func (t *HTTPTransport) buildHandler() http.Handler {
	auth := BearerAuth(t.config.AuthToken, t.logger)
	api := NewAPI(t.server.Analyzer(), t.logger, t.server.Resolver())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", t.handleServiceDiscovery)

	mux.HandleFunc("GET /health", t.healthEndpoint(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.HealthHandler() }))
	mux.HandleFunc("GET /ready", t.healthEndpoint(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.ReadinessHandler() }))
	mux.HandleFunc("GET /live", t.healthEndpoint(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.LivenessHandler() }))

	mux.Handle(t.config.MCPEndpoint, auth(t.streamable))
	mux.Handle("POST /api/v1/analyze", auth(http.HandlerFunc(api.HandleAnalyze)))
	mux.Handle("GET /api/v1/queries", auth(http.HandlerFunc(api.HandleQueries)))

	// Outermost first: request ID, tracing, logging, headers, limits.
	var handler http.Handler = mux
	handler = RequestSizeLimiter(t.config.MaxRequestSize)(handler)
	if t.rateLimiter != nil {
		handler = t.rateLimiter.Middleware(handler)
	}
	handler = SecurityHeaders(handler)
	handler = LoggingMiddleware(t.logger)(handler)
	handler = TracingMiddleware()(handler)
	handler = RequestID(handler)
	return handler
}

// Handler returns the fully wrapped HTTP handler.
func (t *HTTPTransport) Handler() http.Handler {
	return t.handler
}

// healthEndpoint serves a health endpoint from the checker, or a minimal OK when
// none is set.
func (t *HTTPTransport) healthEndpoint(pick func(*monitoring.HealthChecker) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.mu.RLock()
		hc := t.healthChecker
		t.mu.RUnlock()

		if hc != nil {
			pick(hc)(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   ServerName,
		"transport": "streamable-http",
		"endpoints": map[string]string{
			"mcp":     baseURL + t.config.MCPEndpoint,
			"analyze": baseURL + "/api/v1/analyze",
			"queries": baseURL + "/api/v1/queries",
		},
		"capabilities": map[string]any{
			"tools":   true,
			"prompts": true,
		},
		"auth": map[string]any{
			"required": t.config.AuthToken != "",
		},
	})
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("The HTTP transport is already running. Stop it before starting again.")
	}
	srv := &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Analyses wait on the map data service, so writes get a long budget.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	t.httpSrv = srv
	t.mu.Unlock()

	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"mcp_endpoint", t.config.MCPEndpoint,
		"auth", t.config.AuthToken != "",
		"rate_limit_per_min", t.config.RateLimit,
		"base_url", t.config.BaseURL)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	srv := t.httpSrv
	t.httpSrv = nil
	t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if srv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")
	if err := t.streamable.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shut down streamable server", "error", err)
	}
	return srv.Shutdown(ctx)
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	return t.config
}
