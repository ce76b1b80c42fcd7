package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/config"
	"github.com/NERVsystems/urbanmcp/pkg/monitoring"
	"github.com/NERVsystems/urbanmcp/pkg/narrative"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
)

// app is the wired pipeline shared by every command.
type app struct {
	overpass *osm.Client
	geocoder *osm.Geocoder    // nil when the geocoder is disabled
	claude   *narrative.Claude // nil when no API key is configured
	analyzer *analysis.Analyzer
	resolver *osm.Resolver
}

func newApp(c *config.Config, logger *slog.Logger) *app {
	overpass := osm.NewClient(
		osm.WithBaseURL(c.Overpass.URL),
		osm.WithUserAgent(c.Overpass.UserAgent),
		osm.WithRateLimit(c.Overpass.RPS, c.Overpass.Burst),
		osm.WithHTTPClient(&http.Client{Timeout: c.Overpass.Timeout()}),
		osm.WithLogger(logger.With("component", "overpass")),
	)

	opts := []analysis.Option{
		analysis.WithRetry(c.Analysis.RetryOptions()),
		analysis.WithClipToBBox(c.Analysis.ClipToBBox),
		analysis.WithNarrativeEnabled(c.Narrative.Enabled),
		analysis.WithLogger(logger.With("component", "analysis")),
	}

	a := &app{overpass: overpass}

	var searcher osm.PlaceSearcher
	if c.Geocoder.Enabled {
		a.geocoder = osm.NewGeocoder(
			osm.WithNominatimURL(c.Geocoder.URL),
			osm.WithGeocoderUserAgent(c.Overpass.UserAgent),
			osm.WithGeocoderRateLimit(c.Geocoder.RPS),
			osm.WithGeocoderRetry(c.Analysis.RetryOptions()),
			osm.WithGeocoderHTTPClient(&http.Client{Timeout: c.Geocoder.Timeout()}),
			osm.WithGeocoderLogger(logger.With("component", "nominatim")),
		)
		searcher = a.geocoder
	}
	a.resolver = osm.NewResolver(searcher, logger.With("component", "places"))
	if c.Narrative.Enabled {
		claude, err := narrative.NewClaude(c.Narrative.APIKey,
			narrative.WithModel(c.Narrative.Model),
			narrative.WithMaxTokens(c.Narrative.MaxTokens),
			narrative.WithBaseURL(c.Narrative.BaseURL),
			narrative.WithMaxRetries(c.Narrative.MaxRetries),
			narrative.WithTimeout(c.Narrative.Timeout()),
		)
		var nerr *narrative.Error
		switch {
		case err == nil:
			a.claude = claude
			opts = append(opts, analysis.WithNarrator(claude))
		case errors.As(err, &nerr) && nerr.Status == narrative.StatusUnconfigured:
			logger.Info("no narrative API key configured; assessments use the fallback text")
		default:
			logger.Warn("narrative generator unavailable", "error", err)
		}
	}

	a.analyzer = analysis.NewAnalyzer(overpass, opts...)
	return a
}

// installMonitoringHooks routes Overpass and Nominatim client events to
// Prometheus.
func installMonitoringHooks() {
	osm.SetMonitoringHooks(&osm.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
			monitoring.RecordRateLimitExceeded(service)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	})
}

// startConnectionMonitors checks Overpass and, when configured, Nominatim
// and the narrative backend. The returned func stops every monitor.
func (a *app) startConnectionMonitors(hc *monitoring.HealthChecker, narrativeEnabled bool, interval time.Duration) func() {
	monitors := []*monitoring.ConnectionMonitor{
		monitoring.NewConnectionMonitor("overpass", hc, a.overpass.CheckHealth, interval),
	}

	if a.geocoder != nil {
		monitors = append(monitors, monitoring.NewConnectionMonitor("nominatim", hc, a.geocoder.CheckHealth, interval))
	} else {
		hc.UpdateConnection("nominatim", monitoring.ConnDisabled, 0, nil)
	}

	switch {
	case a.claude != nil:
		monitors = append(monitors, monitoring.NewConnectionMonitor("narrative", hc, a.claude.CheckHealth, interval))
	case !narrativeEnabled:
		hc.UpdateConnection("narrative", monitoring.ConnDisabled, 0, nil)
	default:
		hc.UpdateConnection("narrative", monitoring.ConnDisabled, 0, narrative.ErrNoAPIKey)
	}

	for _, m := range monitors {
		m.Start()
	}
	return func() {
		for _, m := range monitors {
			m.Stop()
		}
	}
}

// commandContext bounds one-shot commands.
func commandContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
