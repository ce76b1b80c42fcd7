package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

// RetryOptions configures retry behavior for HTTP requests.
// A request is attempted Retries+1 times with a fixed Pause after every
// failed attempt.
type RetryOptions struct {
	Retries int
	Pause   time.Duration
}

// DefaultRetryOptions retries once after a 1.5 second pause
var DefaultRetryOptions = RetryOptions{
	Retries: 1,
	Pause:   1500 * time.Millisecond,
}

// Attempts returns the total number of attempts the options allow
func (o RetryOptions) Attempts() int {
	if o.Retries < 0 {
		return 1
	}
	return o.Retries + 1
}

// DefaultClient provides a pre-configured HTTP client for slow interpreters
var DefaultClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req)
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RequestFactory is a function that creates a new HTTP request.
// A fresh request is built for every attempt so bodies can be replayed.
type RequestFactory func() (*http.Request, error)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls op until it succeeds, returns a Permanent error, or the
// attempts allowed by options are used up, sleeping options.Pause after
// every failed attempt. Failures are returned as a *FetchError wrapping
// the last error; the number of attempts made is returned in all cases.
func Retry[T any](ctx context.Context, service string, op func(ctx context.Context) (T, error), options RetryOptions) (T, int, error) {
	var zero T
	maxAttempts := options.Attempts()

	ctx, span := tracing.StartSpan(ctx, "http.retry",
		trace.WithAttributes(
			attribute.String(tracing.AttrService, service),
			attribute.Int("http.retry.max_attempts", maxAttempts),
		),
	)
	defer span.End()

	logger := slog.Default().With("service", service)
	var lastErr error

	attempt := 0
	for attempt < maxAttempts {
		attempt++

		out, err := op(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("http.retry.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			logger.Debug("request successful", "attempt", attempt)
			return out, attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			span.RecordError(perm.err)
			span.SetStatus(codes.Error, "permanent failure")
			return zero, attempt, &FetchError{Service: service, Attempts: attempt, Err: perm.err}
		}

		lastErr = err
		logger.Warn("request attempt failed",
			"error", err,
			"attempt", attempt,
			"max_attempts", maxAttempts,
		)

		if attempt >= maxAttempts {
			break
		}

		tracing.AddEvent(ctx, "retry_pause",
			trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("pause_ms", options.Pause.Milliseconds()),
				attribute.String("error", err.Error()),
			),
		)

		// Fixed pause, no backoff
		select {
		case <-time.After(options.Pause):
		case <-ctx.Done():
			lastErr = ctx.Err()
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, "request cancelled")
			return zero, attempt, &FetchError{Service: service, Attempts: attempt, Err: lastErr}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	span.SetAttributes(
		attribute.Int("http.retry.attempts", attempt),
		attribute.String("http.retry.final_error", fmt.Sprintf("%v", lastErr)),
	)

	return zero, attempt, &FetchError{Service: service, Attempts: attempt, Err: lastErr}
}

// WithRetryFactory performs HTTP requests created by a factory with
// fixed-pause retry logic. Only a 200 response counts as success; the
// caller owns the returned body. On failure it returns a *FetchError
// wrapping the last transport error or status error. The number of
// attempts made is returned in both cases.
func WithRetryFactory(ctx context.Context, service string, factory RequestFactory, client Doer, options RetryOptions) (*http.Response, int, error) {
	if client == nil {
		client = DefaultClient
	}
	return Retry(ctx, service, func(ctx context.Context) (*http.Response, error) {
		return doAttempt(ctx, factory, client)
	}, options)
}

// doAttempt runs one request and converts non-200 statuses into errors
func doAttempt(ctx context.Context, factory RequestFactory, client Doer) (*http.Response, error) {
	req, err := factory()
	if err != nil {
		return nil, NewError(ErrInternalError, fmt.Sprintf("failed to create request: %v", err))
	}
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if cerr := resp.Body.Close(); cerr != nil {
		slog.Default().Warn("failed to close response body", "error", cerr)
	}
	return nil, ServiceError(req.URL.Host, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
}
