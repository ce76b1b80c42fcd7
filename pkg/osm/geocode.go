package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

const (
	// NominatimURL is the public Nominatim endpoint
	NominatimURL = "https://nominatim.openstreetmap.org"

	// Nominatim's usage policy allows one request per second.
	nominatimRPS   = 1.0
	nominatimBurst = 1
)

// GeocodeResult is one Nominatim search hit.
type GeocodeResult struct {
	DisplayName string          `json:"display_name"`
	Lat         float64         `json:"lat"`
	Lon         float64         `json:"lon"`
	BBox        geo.BoundingBox `json:"bbox"`
	Class       string          `json:"class,omitempty"`
	Type        string          `json:"type,omitempty"`
	Importance  float64         `json:"importance,omitempty"`
}

// nominatimPlace is the jsonv2 wire form. Coordinates arrive as strings
// and boundingbox is [min_lat, max_lat, min_lon, max_lon].
type nominatimPlace struct {
	DisplayName string   `json:"display_name"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"`
	Class       string   `json:"category"`
	Type        string   `json:"type"`
	Importance  float64  `json:"importance"`
}

func (p nominatimPlace) result() (GeocodeResult, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("lon %q: %w", p.Lon, err)
	}
	r := GeocodeResult{
		DisplayName: p.DisplayName,
		Lat:         lat,
		Lon:         lon,
		Class:       p.Class,
		Type:        p.Type,
		Importance:  p.Importance,
	}
	if len(p.BoundingBox) != 4 {
		r.BBox = geo.NewBoundingBox(lon, lat, lon, lat)
		return r, nil
	}
	var v [4]float64
	for i, s := range p.BoundingBox {
		if v[i], err = strconv.ParseFloat(s, 64); err != nil {
			return GeocodeResult{}, fmt.Errorf("boundingbox %q: %w", s, err)
		}
	}
	r.BBox = geo.NewBoundingBox(v[2], v[0], v[3], v[1])
	return r, nil
}

// Geocoder resolves place names with Nominatim. It is safe for
// concurrent use.
type Geocoder struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	hooks      *MonitoringHooks
	retry      core.RetryOptions
	logger     *slog.Logger
}

// GeocoderOption configures a Geocoder
type GeocoderOption func(*Geocoder)

// WithNominatimURL overrides the Nominatim base URL
func WithNominatimURL(u string) GeocoderOption {
	return func(g *Geocoder) {
		if u != "" {
			g.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGeocoderUserAgent overrides the User-Agent header. Nominatim
// rejects requests without one.
func WithGeocoderUserAgent(ua string) GeocoderOption {
	return func(g *Geocoder) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithGeocoderHTTPClient overrides the underlying HTTP client
func WithGeocoderHTTPClient(hc *http.Client) GeocoderOption {
	return func(g *Geocoder) {
		if hc != nil {
			g.httpClient = hc
		}
	}
}

// WithGeocoderRateLimit sets the request rate. A non-positive rate
// disables limiting.
func WithGeocoderRateLimit(rps float64) GeocoderOption {
	return func(g *Geocoder) {
		if rps <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, nominatimBurst)
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), nominatimBurst)
	}
}

// WithGeocoderRetry sets the retry policy for searches
func WithGeocoderRetry(o core.RetryOptions) GeocoderOption {
	return func(g *Geocoder) { g.retry = o }
}

// WithGeocoderHooks sets per-geocoder hooks, overriding the global ones
func WithGeocoderHooks(h *MonitoringHooks) GeocoderOption {
	return func(g *Geocoder) { g.hooks = h }
}

// WithGeocoderLogger sets the logger
func WithGeocoderLogger(logger *slog.Logger) GeocoderOption {
	return func(g *Geocoder) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGeocoder creates a Nominatim geocoder
func NewGeocoder(opts ...GeocoderOption) *Geocoder {
	g := &Geocoder{
		baseURL:    NominatimURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(nominatimRPS), nominatimBurst),
		retry:      core.DefaultRetryOptions,
		logger:     slog.Default().With("component", "nominatim"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Search returns the best match for place, or ok=false when Nominatim
// knows nothing by that name.
func (g *Geocoder) Search(ctx context.Context, place string) (GeocodeResult, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "nominatim.search",
		trace.WithAttributes(
			attribute.String(tracing.AttrService, tracing.ServiceNominatim),
			attribute.String(tracing.AttrServiceURL, g.baseURL),
			attribute.String(tracing.AttrPlace, place),
		),
	)
	defer span.End()

	u, err := url.Parse(g.baseURL + "/search")
	if err != nil {
		return GeocodeResult{}, false, fmt.Errorf("invalid nominatim url: %w", err)
	}
	q := u.Query()
	q.Set("q", place)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	attempt := func(ctx context.Context) ([]nominatimPlace, error) {
		resp, err := g.get(ctx, "search", u.String())
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var places []nominatimPlace
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&places); err != nil {
			g.activeHooks().error(tracing.ServiceNominatim, "decode_error")
			return nil, core.Permanent(core.NewError(core.ErrParseError, fmt.Sprintf("invalid Nominatim response: %v", err)))
		}
		return places, nil
	}

	places, attempts, err := core.Retry(ctx, tracing.ServiceNominatim, attempt, g.retry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		g.logger.Error("nominatim search failed", "place", place, "error", err, "attempts", attempts)
		return GeocodeResult{}, false, err
	}
	if len(places) == 0 {
		span.SetStatus(codes.Ok, "no match")
		return GeocodeResult{}, false, nil
	}

	res, err := places[0].result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad coordinates")
		return GeocodeResult{}, false, core.NewError(core.ErrParseError, "invalid Nominatim coordinates: "+err.Error())
	}
	span.SetStatus(codes.Ok, "")
	g.logger.Debug("geocoded place", "place", place, "match", res.DisplayName, "attempts", attempts)
	return res, true, nil
}

// get sends one rate-limited, monitored GET and turns any status other
// than 200 into an error.
func (g *Geocoder) get(ctx context.Context, operation, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, core.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	hooks := g.activeHooks()
	hooks.request(tracing.ServiceNominatim, operation)

	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		hooks.error(tracing.ServiceNominatim, "rate_limit_wait_error")
		return nil, err
	}
	if wait := time.Since(start); wait > 100*time.Millisecond {
		hooks.rateLimit(tracing.ServiceNominatim, wait)
	}

	requestStart := time.Now()
	resp, err := g.httpClient.Do(req)
	success := err == nil && resp.StatusCode == http.StatusOK
	hooks.response(tracing.ServiceNominatim, operation, time.Since(requestStart), success)
	if err != nil {
		hooks.error(tracing.ServiceNominatim, "request_error")
		return nil, err
	}
	if !success {
		hooks.error(tracing.ServiceNominatim, fmt.Sprintf("status_%d", resp.StatusCode))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, core.ServiceError(tracing.ServiceNominatim, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}
	return resp, nil
}

func (g *Geocoder) activeHooks() *MonitoringHooks {
	if g.hooks != nil {
		return g.hooks
	}
	return getMonitoringHooks()
}

// CheckHealth reports whether the Nominatim status endpoint responds.
func (g *Geocoder) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create nominatim health check request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nominatim health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("nominatim health check returned status %d", resp.StatusCode)
	}
	return nil
}
