package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/urbanmcp/pkg/config"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
	"github.com/NERVsystems/urbanmcp/pkg/version"
)

var (
	cfg             *config.Config
	logger          *slog.Logger
	shutdownTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "urbanmcp",
	Short: "Urban infrastructure profiles from OpenStreetMap",
	Long: `Profiles the street network, buildings and health and education
amenities inside a bounding box using the Overpass API, and derives a
composite socio-economic score with an optional written assessment.

With no subcommand the MCP server is started on stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		c, err := config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		logger = newLogger(cfg.Log, os.Stderr)
		slog.SetDefault(logger)

		shutdownTracing, err = tracing.InitTracing(cmd.Context(), tracing.Options{
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			Version:     version.String(),
			Environment: cfg.Tracing.Environment,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			// Tracing is optional.
			logger.Error("failed to initialize tracing", "error", err)
			shutdownTracing = nil
		} else if cfg.Tracing.Endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", cfg.Tracing.Endpoint)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTracing == nil {
			return
		}
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("error shutting down tracing", "error", err)
		}
	},
	RunE: runServe,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "config file (default ./urbanmcp.yaml)")
	f.Bool("debug", false, "enable debug logging")
	f.String("log-format", "text", "log format: text or json")

	f.String("overpass-url", "", "Overpass interpreter URL")
	f.String("user-agent", "", "User-Agent for Overpass requests")
	f.Float64("overpass-rps", 1.0, "Overpass requests per second")
	f.Int("overpass-burst", 3, "Overpass rate limit burst size")
	f.Int("retries", 1, "retries per Overpass query (0-5)")
	f.Bool("clip", false, "clip features to the bounding box before measuring")

	f.Bool("geocoder", true, "resolve place names with Nominatim")
	f.String("nominatim-url", "", "Nominatim base URL")

	f.Bool("narrative", true, "generate a written assessment when an API key is configured")
	f.String("model", "", "model used for the written assessment")

	f.Bool("enable-http", false, "enable the streamable HTTP transport (in addition to stdio)")
	f.Bool("http-only", false, "run the HTTP transport only (requires --enable-http)")
	f.String("http-addr", ":7082", "HTTP server address")
	f.String("http-base-url", "", "base URL advertised by service discovery")
	f.String("http-auth-token", "", "bearer token required on HTTP requests")
	f.Int("rate-limit", 60, "HTTP requests per minute per client IP (0 disables)")

	f.Bool("enable-monitoring", true, "enable the Prometheus metrics server")
	f.String("monitoring-addr", ":9090", "metrics server address")

	f.Bool("enable-registration", false, "announce this server to a service registry")
	f.String("registry-url", "", "service registry URL")
	f.String("service-url", "", "externally reachable URL of this server")
}

// newLogger builds the process logger. Logs always go to stderr because
// stdout carries the MCP stream.
func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
