// Package server exposes the urban analysis tools over MCP stdio and
// streamable HTTP, plus a small REST API.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/tools"
	"github.com/NERVsystems/urbanmcp/pkg/version"
)

// ServerName is the name advertised to MCP clients
const ServerName = "urbanmcp"

const instructions = "Use analyze_bbox with a [min_lon, min_lat, max_lon, max_lat] box to profile " +
	"an area's roads, buildings, health and education amenities, or analyze_place with a city " +
	"name or \"lat, lon\" text. Keep boxes small " +
	"(a few km²); large areas are slow and may be rejected by the map data service."

// Server encapsulates the MCP server with the analysis tools.
type Server struct {
	srv      *mcpserver.MCPServer
	registry *tools.Registry
	analyzer *analysis.Analyzer
	resolver tools.PlaceResolver
	logger   *slog.Logger

	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPlaceResolver enables analyze_place and place requests on the
// REST API.
func WithPlaceResolver(r tools.PlaceResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithStdio overrides the streams used by Run. Defaults to os.Stdin and
// os.Stdout.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(s *Server) {
		s.in = in
		s.out = out
	}
}

// NewServer creates an MCP server with every tool and prompt registered.
func NewServer(analyzer *analysis.Analyzer, opts ...Option) *Server {
	s := &Server{
		analyzer: analyzer,
		logger:   slog.Default(),
		in:       os.Stdin,
		out:      os.Stdout,
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("initializing MCP server",
		"name", ServerName,
		"version", version.String())

	s.srv = mcpserver.NewMCPServer(
		ServerName,
		version.String(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(instructions),
		mcpserver.WithRecovery(),
	)

	var regOpts []tools.RegistryOption
	if s.resolver != nil {
		regOpts = append(regOpts, tools.WithResolver(s.resolver))
	}
	s.registry = tools.NewRegistry(s.logger, analyzer, regOpts...)
	s.registry.RegisterAll(s.srv)

	return s
}

// RunWithContext serves MCP over stdio until ctx is canceled, the input
// stream ends or Shutdown is called.
func (s *Server) RunWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer close(s.doneCh)

	stdio := mcpserver.NewStdioServer(s.srv)
	err := stdio.Listen(ctx, s.in, s.out)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		s.logger.Info("stdio transport stopped")
		return nil
	}
	s.logger.Error("server error", "error", err)
	return err
}

// Shutdown stops a running server. It does not block.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// WaitForShutdown blocks until RunWithContext has returned.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// GetMCPServer returns the underlying MCP server instance for HTTP transport
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}

// Analyzer returns the analyzer the tools run on
func (s *Server) Analyzer() *analysis.Analyzer {
	return s.analyzer
}

// Resolver returns the place resolver, or nil when place lookup is off
func (s *Server) Resolver() tools.PlaceResolver {
	return s.resolver
}

// ToolNames lists the registered tool names
func (s *Server) ToolNames() []string {
	return s.registry.GetToolNames()
}
