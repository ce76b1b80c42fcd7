package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

const (
	// OverpassURL is the public Overpass interpreter endpoint
	OverpassURL = "https://overpass-api.de/api/interpreter"

	// DefaultUserAgent is the default User-Agent string
	DefaultUserAgent = "urbanmcp/0.1.0"

	// DefaultTimeout bounds a single interpreter request
	DefaultTimeout = 120 * time.Second

	// DefaultRPS and DefaultBurst let the three profile queries leave together
	DefaultRPS   = 1.0
	DefaultBurst = 3

	// maxResponseBytes caps how much of an interpreter response is decoded
	maxResponseBytes = 256 << 20
)

// Fetcher runs an Overpass query and returns the decoded response.
type Fetcher interface {
	Fetch(ctx context.Context, query string, retry core.RetryOptions) (*Response, error)
}

// Client is an Overpass API client with rate limiting, retries and
// monitoring. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	hooks      *MonitoringHooks
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the interpreter URL
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit sets the request rate and burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, burst)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMonitoringHooks sets per-client hooks, overriding the global ones
func WithMonitoringHooks(h *MonitoringHooks) Option {
	return func(c *Client) { c.hooks = h }
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new Overpass client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   OverpassURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRPS), DefaultBurst),
		logger:  slog.Default().With("component", "overpass"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the interpreter URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch posts the query to the interpreter, retrying transport failures and
// non-200 responses with a fixed pause. A response that is not valid
// Overpass JSON fails immediately with a PARSE_ERROR.
func (c *Client) Fetch(ctx context.Context, query string, retry core.RetryOptions) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "overpass.fetch",
		trace.WithAttributes(
			attribute.String(tracing.AttrService, tracing.ServiceOverpass),
			attribute.String(tracing.AttrServiceURL, c.baseURL),
			attribute.Int("overpass.query_length", len(query)),
		),
	)
	defer span.End()

	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL, strings.NewReader(query))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		return req, nil
	}

	attemptFetch := func(ctx context.Context) (*Response, error) {
		resp, err := doAttempt(ctx, factory, c)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var out Response
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
			c.activeHooks().error(tracing.ServiceOverpass, "decode_error")
			return nil, core.Permanent(core.NewError(core.ErrParseError, fmt.Sprintf("invalid Overpass response: %v", err)).
				WithQuery(query).
				WithGuidance("The interpreter returned a non-JSON body; it may be overloaded"))
		}
		// A runtime error remark means the interpreter gave up part way
		// and the elements are incomplete.
		if out.RemarkIsRuntimeError() {
			c.activeHooks().error(tracing.ServiceOverpass, "runtime_error")
			return nil, core.NewError(core.ErrServiceTimeout, "Overpass runtime error: "+out.Remark).
				WithQuery(query).
				WithGuidance("The query exceeded the interpreter's limits; try a smaller bounding box")
		}
		return &out, nil
	}

	out, attempts, err := core.Retry(ctx, tracing.ServiceOverpass, attemptFetch, retry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		c.logger.Error("overpass fetch failed", "error", err, "attempts", attempts)
		return nil, err
	}

	if out.Remark != "" {
		span.SetAttributes(attribute.String(tracing.AttrOverpassRemark, out.Remark))
		c.logger.Warn("overpass response carries a remark", "remark", out.Remark, "elements", len(out.Elements))
	}
	span.SetAttributes(
		attribute.Int("overpass.elements", len(out.Elements)),
		attribute.Int("http.retry.attempts", attempts),
	)
	span.SetStatus(codes.Ok, "")
	c.logger.Debug("overpass fetch complete", "elements", len(out.Elements), "attempts", attempts)
	return out, nil
}

// doAttempt sends one request through the client's limiter and hooks and
// turns any status other than 200 into an error.
func doAttempt(ctx context.Context, factory core.RequestFactory, c *Client) (*http.Response, error) {
	req, err := factory()
	if err != nil {
		return nil, core.Permanent(err)
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, core.ServiceError(tracing.ServiceOverpass, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}
	return resp, nil
}

// do performs one rate-limited, monitored request
func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	hooks := c.activeHooks()
	hooks.request(tracing.ServiceOverpass, "interpreter")

	start := time.Now()
	if err := c.waitForRateLimit(ctx); err != nil {
		hooks.error(tracing.ServiceOverpass, "rate_limit_wait_error")
		return nil, err
	}
	if wait := time.Since(start); wait > 100*time.Millisecond {
		hooks.rateLimit(tracing.ServiceOverpass, wait)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(requestStart)

	success := err == nil && resp.StatusCode == http.StatusOK
	hooks.response(tracing.ServiceOverpass, "interpreter", duration, success)
	if err != nil {
		hooks.error(tracing.ServiceOverpass, "request_error")
	} else if !success {
		hooks.error(tracing.ServiceOverpass, fmt.Sprintf("status_%d", resp.StatusCode))
	}
	return resp, err
}

// waitForRateLimit blocks until the limiter admits a request
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter.Allow() {
		return nil
	}

	startWait := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(
			attribute.String(tracing.AttrRateLimitService, tracing.ServiceOverpass),
		),
	)

	err := c.limiter.Wait(ctx)

	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, tracing.ServiceOverpass),
		attribute.Int64(tracing.AttrRateLimitWaitMs, time.Since(startWait).Milliseconds()),
	)
	return err
}

// activeHooks returns the client's hooks, falling back to the global ones
func (c *Client) activeHooks() *MonitoringHooks {
	if c.hooks != nil {
		return c.hooks
	}
	return getMonitoringHooks()
}

// CheckHealth issues a trivial query to check that the interpreter responds
func (c *Client) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid overpass url: %w", err)
	}
	q := u.Query()
	q.Set("data", "[out:json];out meta;")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create overpass health check request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("overpass health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("overpass health check returned status %d", resp.StatusCode)
	}
	return nil
}
