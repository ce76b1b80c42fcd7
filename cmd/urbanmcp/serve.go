package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/NERVsystems/urbanmcp/pkg/monitoring"
	"github.com/NERVsystems/urbanmcp/pkg/registration"
	"github.com/NERVsystems/urbanmcp/pkg/server"
	"github.com/NERVsystems/urbanmcp/pkg/version"
)

const (
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the MCP server on stdio. With --enable-http the streamable HTTP
transport, health checks and REST API are served as well; add --http-only
to skip stdio.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.With("command", "serve")
	srvCfg := cfg.Server
	if srvCfg.HTTPOnly && !srvCfg.HTTPEnabled {
		log.Warn("--http-only has no effect without --enable-http")
		srvCfg.HTTPOnly = false
	}

	log.Info("starting urban analysis MCP server",
		"version", version.String(),
		"log_level", cfg.Log.Level,
		"overpass_url", cfg.Overpass.URL,
		"overpass_rps", cfg.Overpass.RPS,
		"overpass_burst", cfg.Overpass.Burst,
		"retries", cfg.Analysis.Retries,
		"geocoder_enabled", cfg.Geocoder.Enabled,
		"narrative_enabled", cfg.Narrative.Enabled,
		"http_enabled", srvCfg.HTTPEnabled,
		"monitoring_enabled", cfg.Monitoring.Enabled)

	a := newApp(cfg, logger)
	s := server.NewServer(a.analyzer,
		server.WithLogger(logger),
		server.WithPlaceResolver(a.resolver),
	)

	var healthChecker *monitoring.HealthChecker
	if cfg.Monitoring.Enabled {
		installMonitoringHooks()

		healthChecker = monitoring.NewHealthChecker(server.ServerName, version.String())
		defer healthChecker.Shutdown()

		stopMonitors := a.startConnectionMonitors(healthChecker, cfg.Narrative.Enabled, healthCheckInterval)
		defer stopMonitors()

		metricsSrv := startMetricsServer(cfg.Monitoring.Addr)
		defer shutdownWithTimeout(metricsSrv.Shutdown)
	}

	if srvCfg.HTTPEnabled {
		transport := server.NewHTTPTransport(s, server.HTTPTransportConfig{
			Addr:           srvCfg.HTTPAddr,
			BaseURL:        srvCfg.BaseURL,
			AuthToken:      srvCfg.AuthToken,
			RateLimit:      srvCfg.RateLimit,
			MaxRequestSize: srvCfg.MaxRequestSize,
		}, logger)

		if healthChecker != nil {
			transport.SetHealthChecker(healthChecker)
			transportType := "http_streaming"
			if !srvCfg.HTTPOnly {
				transportType = "stdio+http_streaming"
			}
			healthChecker.SetTransport(monitoring.TransportInfo{Type: transportType, HTTPAddr: srvCfg.HTTPAddr})
		}

		go func() {
			if err := transport.Start(); err != nil {
				log.Error("HTTP transport error", "error", err)
				stop()
			}
		}()
		defer shutdownWithTimeout(transport.Shutdown)
	} else if healthChecker != nil {
		healthChecker.SetTransport(monitoring.TransportInfo{Type: "stdio"})
	}

	if cfg.Registration.Enabled {
		reg := newRegistrationClient(s.ToolNames(), srvCfg.HTTPEnabled)
		reg.Start(ctx)
		defer shutdownWithTimeout(func(ctx context.Context) error {
			reg.Stop(ctx)
			return nil
		})
	}

	switch {
	case !srvCfg.HTTPEnabled:
		log.Info("transport enabled", "type", "stdio", "mode", "blocking")
		if err := s.RunWithContext(ctx); err != nil {
			return err
		}
	case srvCfg.HTTPOnly:
		log.Info("server ready", "transports", []string{"http"})
		<-ctx.Done()
	default:
		go func() {
			if err := s.RunWithContext(ctx); err != nil {
				// HTTP keeps serving.
				log.Error("stdio transport error", "error", err)
			}
		}()
		log.Info("server ready", "transports", []string{"stdio", "http"})
		<-ctx.Done()
	}

	log.Info("server stopped")
	return nil
}

func newRegistrationClient(toolNames []string, httpEnabled bool) *registration.Client {
	serviceURL := cfg.Registration.ServiceURL
	if serviceURL == "" && httpEnabled {
		serviceURL = "http://localhost" + cfg.Server.HTTPAddr
	}
	return registration.NewClient(registration.Config{
		RegistryURL:       cfg.Registration.RegistryURL,
		ServiceName:       server.ServerName,
		ServiceURL:        serviceURL,
		Version:           version.String(),
		Capabilities:      []string{"urban-profile", "scoring"},
		Tools:             toolNames,
		Metadata:          map[string]any{"transport": map[string]bool{"stdio": !cfg.Server.HTTPOnly, "http": httpEnabled}},
		HeartbeatInterval: cfg.Registration.HeartbeatInterval(),
	}, logger)
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("starting Prometheus metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server error", "error", err)
		}
	}()
	return srv
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
