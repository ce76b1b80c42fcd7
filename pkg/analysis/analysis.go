// Package analysis runs the bounding box profile: three concurrent Overpass
// queries, feature conversion, metrics, score and narrative.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gosm "github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/monitoring"
	"github.com/NERVsystems/urbanmcp/pkg/narrative"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
	"github.com/NERVsystems/urbanmcp/pkg/osm/queries"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

// Result is the outcome of one analysis.
type Result struct {
	BBox            geo.BoundingBox  `json:"bbox"`
	Metrics         Metrics          `json:"metrics"`
	Analysis        string           `json:"analysis"`
	NarrativeStatus narrative.Status `json:"narrative_status"`
	Breakdown       Breakdown        `json:"breakdown"`
	Assessment      Assessment       `json:"assessment"`
	Features        *Layers          `json:"features,omitempty"`
}

// WithoutFeatures returns a copy of r with the feature layers dropped.
func (r *Result) WithoutFeatures() *Result {
	out := *r
	out.Features = nil
	return &out
}

// layerTypes restricts each layer to the element types its query selects.
var layerTypes = map[queries.Layer]gosm.Type{
	queries.LayerRoads:     osm.TypeWay,
	queries.LayerBuildings: osm.TypeWay,
	queries.LayerAmenities: osm.TypeNode,
}

// Analyzer runs analyses. It holds no per-call state and is safe for
// concurrent use.
type Analyzer struct {
	fetcher          osm.Fetcher
	narrator         narrative.Generator
	narrativeEnabled bool
	retry            core.RetryOptions
	clip             bool
	logger           *slog.Logger
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithNarrator sets the narrative generator. A nil generator leaves the
// narrative unconfigured.
func WithNarrator(g narrative.Generator) Option {
	return func(a *Analyzer) { a.narrator = g }
}

// WithNarrativeEnabled toggles narrative generation
func WithNarrativeEnabled(enabled bool) Option {
	return func(a *Analyzer) { a.narrativeEnabled = enabled }
}

// WithRetry sets the fetch retry policy
func WithRetry(r core.RetryOptions) Option {
	return func(a *Analyzer) { a.retry = r }
}

// WithClipToBBox clips converted features to the bounding box before
// measuring them.
func WithClipToBBox(clip bool) Option {
	return func(a *Analyzer) { a.clip = clip }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an Analyzer reading from fetcher.
func NewAnalyzer(fetcher osm.Fetcher, opts ...Option) *Analyzer {
	a := &Analyzer{
		fetcher:          fetcher,
		narrativeEnabled: true,
		retry:            core.DefaultRetryOptions,
		logger:           slog.Default().With("component", "analysis"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithRetries returns a copy of a using retries for this call only.
func (a *Analyzer) WithRetries(retries int) *Analyzer {
	c := *a
	c.retry.Retries = retries
	return &c
}

// Analyze validates raw as a bounding box and analyzes it. Invalid input
// returns a core.ValidationError before any request is made.
func (a *Analyzer) Analyze(ctx context.Context, raw any) (*Result, error) {
	bbox, err := geo.ParseBoundingBox(raw)
	if err != nil {
		monitoring.RecordAnalysis("validation_error", 0)
		return nil, err
	}
	return a.AnalyzeBBox(ctx, bbox)
}

// AnalyzeBBox runs the pipeline for bbox. Any fetch failure aborts the
// whole analysis and returns a *core.FetchError; narrative failures are
// absorbed into the result.
func (a *Analyzer) AnalyzeBBox(ctx context.Context, bbox geo.BoundingBox) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "analysis.analyze",
		trace.WithAttributes(attribute.String(tracing.AttrBBox, bbox.String())),
	)
	defer span.End()

	start := time.Now()
	logger := a.logger.With("bbox", bbox.String())

	layers, err := a.fetchLayers(ctx, bbox)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		monitoring.RecordAnalysis("fetch_error", time.Since(start))
		logger.Error("analysis aborted", "error", err)
		return nil, err
	}

	if a.clip {
		layers.Roads = osm.ClipToBBox(layers.Roads, bbox)
		layers.Buildings = osm.ClipToBBox(layers.Buildings, bbox)
		layers.Amenities = osm.ClipToBBox(layers.Amenities, bbox)
	}

	metrics, breakdown := ComputeMetrics(bbox, layers)
	span.SetAttributes(
		attribute.Float64(tracing.AttrAreaKm2, metrics.AreaKm2),
		attribute.Float64(tracing.AttrScore, metrics.SocioEconScore),
	)
	logger.Info("metrics computed",
		"area_km2", metrics.AreaKm2,
		"roads_km", metrics.RoadsKm,
		"buildings", metrics.BuildingsCount,
		"score", metrics.SocioEconScore)

	out := narrative.Summarize(ctx, a.narrator, a.narrativeEnabled, BuildPrompt(bbox, metrics))
	monitoring.RecordNarrative(string(out.Status))
	span.SetAttributes(attribute.String(tracing.AttrNarrativeMode, string(out.Status)))

	monitoring.RecordScore(metrics.SocioEconScore)
	monitoring.RecordAnalysis("success", time.Since(start))
	span.SetStatus(codes.Ok, "")

	return &Result{
		BBox:            bbox,
		Metrics:         metrics,
		Analysis:        out.Text,
		NarrativeStatus: out.Status,
		Breakdown:       breakdown,
		Assessment:      Assess(metrics),
		Features:        &layers,
	}, nil
}

// fetchLayers runs the three profile queries concurrently. The first
// failure cancels the others and nothing is returned.
func (a *Analyzer) fetchLayers(ctx context.Context, bbox geo.BoundingBox) (Layers, error) {
	if a.fetcher == nil {
		return Layers{}, errors.New("analysis: no fetcher configured")
	}

	profile := queries.ProfileQueries(bbox)
	responses := make([]*osm.Response, len(queries.Layers))

	g, gctx := errgroup.WithContext(ctx)
	for i, layer := range queries.Layers {
		g.Go(func() error {
			resp, err := a.fetcher.Fetch(gctx, profile.Get(layer), a.retry)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", layer, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Layers{}, err
	}

	var layers Layers
	for i, layer := range queries.Layers {
		var elements []osm.Element
		if responses[i] != nil {
			elements = responses[i].Elements
		}
		fc := osm.ToFeatureCollection(elements, layerTypes[layer])
		monitoring.RecordFeatures(string(layer), len(fc.Features))
		tracing.AddEvent(ctx, "layer_converted",
			trace.WithAttributes(tracing.LayerAttributes(string(layer), len(fc.Features))...))

		switch layer {
		case queries.LayerRoads:
			layers.Roads = fc
		case queries.LayerBuildings:
			layers.Buildings = fc
		case queries.LayerAmenities:
			layers.Amenities = fc
		}
	}
	return layers, nil
}
