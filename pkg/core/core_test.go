package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestNormClip(t *testing.T) {
	tests := []struct {
		x, lo, hi float64
		want      float64
	}{
		{-5, 0, 10, 0},
		{0, 0, 10, 0},
		{5, 0, 10, 0.5},
		{10, 0, 10, 1},
		{1e9, 0, 10, 1},
		{3, 3, 3, 0},
		{4, 3, 3, 1},
		{math.NaN(), 0, 10, 0},
		{math.Inf(1), 0, 10, 1},
		{math.Inf(-1), 0, 10, 0},
	}
	for _, tt := range tests {
		got := NormClip(tt.x, tt.lo, tt.hi)
		if got < 0 || got > 1 {
			t.Errorf("NormClip(%v,%v,%v) = %v outside [0,1]", tt.x, tt.lo, tt.hi, got)
		}
		if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("NormClip(%v,%v,%v) = %v, want %v", tt.x, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestComposeScore(t *testing.T) {
	t.Run("zero inputs", func(t *testing.T) {
		b := ComposeScore(ScoreInputs{})
		if b.Score != 0 {
			t.Errorf("expected 0 score, got %v", b.Score)
		}
	})

	t.Run("saturated inputs", func(t *testing.T) {
		b := ComposeScore(ScoreInputs{
			RoadsKmPerKm2:       100,
			IntersectionsPerKm2: 1000,
			HospitalsPerKm2:     50,
			SchoolsPerKm2:       80,
		})
		// Activity and green are reserved, so the ceiling is 70.
		if d := b.Score - 70; d > 1e-6 || d < -1e-6 {
			t.Errorf("expected score 70, got %v", b.Score)
		}
		if b.Activity != 0 || b.Green != 0 {
			t.Errorf("reserved indices must be zero: %+v", b)
		}
	})

	t.Run("half roads only", func(t *testing.T) {
		b := ComposeScore(ScoreInputs{RoadsKmPerKm2: 5})
		want := 100 * 0.35 * 0.5 * 0.5
		if d := b.Score - want; d > 1e-6 || d < -1e-6 {
			t.Errorf("expected %v, got %v", want, b.Score)
		}
	})

	t.Run("bounded for extreme inputs", func(t *testing.T) {
		for _, v := range []float64{-1e12, -1, 0, 1, 1e12} {
			b := ComposeScore(ScoreInputs{v, v, v, v})
			if b.Score < 0 || b.Score > 100 {
				t.Errorf("score %v out of range for input %v", b.Score, v)
			}
		}
	})
}

func TestCompositeWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range CompositeWeights {
		sum += w.Weight
	}
	if d := sum - 1; d > 1e-12 || d < -1e-12 {
		t.Errorf("weights sum to %v", sum)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		x    float64
		d    int
		want float64
	}{
		{1.23456, 3, 1.235},
		{1.23444, 4, 1.2344},
		{2.5, 0, 3},
		{-2.5, 0, -3},
		{42.04, 1, 42.0},
	}
	for _, tt := range tests {
		if got := Round(tt.x, tt.d); got != tt.want {
			t.Errorf("Round(%v,%d) = %v, want %v", tt.x, tt.d, got, tt.want)
		}
	}
}

func TestValidateRetries(t *testing.T) {
	if err := ValidateRetries(0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRetries(MaxRetries); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, n := range []int{-1, MaxRetries + 1} {
		err := ValidateRetries(n)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError for %d, got %v", n, err)
		}
	}
}

func TestParseRetries(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"retries": float64(3)}
	n, err := ParseRetries(req, "", 1)
	if err != nil || n != 3 {
		t.Errorf("ParseRetries = %d, %v", n, err)
	}

	req.Params.Arguments = map[string]any{}
	n, err = ParseRetries(req, "retries", 1)
	if err != nil || n != 1 {
		t.Errorf("default ParseRetries = %d, %v", n, err)
	}

	req.Params.Arguments = map[string]any{"retries": float64(99)}
	if _, err := ParseRetries(req, "retries", 1); err == nil {
		t.Error("expected error for out of range retries")
	}
}

func TestServiceError(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusGatewayTimeout, ErrServiceTimeout},
		{http.StatusBadRequest, ErrInvalidInput},
		{http.StatusInternalServerError, ErrInternalError},
		{http.StatusServiceUnavailable, ErrServiceUnavailable},
		{http.StatusTeapot, ErrServiceUnavailable},
	}
	for _, tt := range tests {
		err := ServiceError("overpass", tt.status, "x")
		if err.Code != string(tt.code) {
			t.Errorf("status %d: code %s, want %s", tt.status, err.Code, tt.code)
		}
		if err.Guidance == "" {
			t.Errorf("status %d: missing guidance", tt.status)
		}
	}
}

func TestToMCPError(t *testing.T) {
	fe := &FetchError{Service: "overpass", Attempts: 2, Err: ServiceError("overpass", 429, "slow down")}
	if got := ToMCPError(fmt.Errorf("roads: %w", fe)); got.Code != string(ErrRateLimit) {
		t.Errorf("fetch error code = %s", got.Code)
	}

	transport := &FetchError{Service: "overpass", Attempts: 1, Err: io.ErrUnexpectedEOF}
	if got := ToMCPError(transport); got.Code != string(ErrNetworkError) {
		t.Errorf("transport error code = %s", got.Code)
	}

	ve := ValidationError{Code: string(ErrInvalidBBox), Message: "bad"}
	if got := ToMCPError(ve); got.Code != string(ErrInvalidBBox) {
		t.Errorf("validation code = %s", got.Code)
	}

	if got := ToMCPError(errors.New("boom")); got.Code != string(ErrInternalError) {
		t.Errorf("plain error code = %s", got.Code)
	}

	res := NewError(ErrParseError, "bad json").ToMCPResult()
	if !res.IsError {
		t.Error("expected error result")
	}
}

func postFactory(url string) RequestFactory {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodPost, url, strings.NewReader("q"))
	}
}

func TestWithRetryFactory_SucceedsWithinRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "q" {
			t.Errorf("body not replayed: %q", body)
		}
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, attempts, err := WithRetryFactory(context.Background(), "test", postFactory(srv.URL), srv.Client(),
		RetryOptions{Retries: 2, Pause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryFactory_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	pause := 20 * time.Millisecond
	start := time.Now()
	_, attempts, err := WithRetryFactory(context.Background(), "test", postFactory(srv.URL), srv.Client(),
		RetryOptions{Retries: 2, Pause: pause})
	elapsed := time.Since(start)

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Attempts != 3 || attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("attempts = %d/%d, calls = %d", fe.Attempts, attempts, calls)
	}
	if fe.Code() != ErrRateLimit {
		t.Errorf("code = %s", fe.Code())
	}
	// Two pauses, no backoff growth.
	if elapsed < 2*pause {
		t.Errorf("elapsed %v shorter than two pauses", elapsed)
	}
}

func TestWithRetryFactory_ZeroRetries(t *testing.T) {
	var calls int32
	client := DoerFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, io.ErrUnexpectedEOF
	})

	_, _, err := WithRetryFactory(context.Background(), "test", postFactory("http://example.invalid"), client,
		RetryOptions{Retries: 0, Pause: time.Hour})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetryFactory_CancelDuringPause(t *testing.T) {
	client := DoerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := WithRetryFactory(ctx, "test", postFactory("http://example.invalid"), client,
		RetryOptions{Retries: 3, Pause: time.Hour})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(context.Background(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(NewError(ErrParseError, "bad body"))
	}, RetryOptions{Retries: 3, Pause: time.Hour})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Code() != ErrParseError {
		t.Errorf("code = %s, want PARSE_ERROR", fe.Code())
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1", calls, attempts)
	}
}

func TestRetry_ReturnsValue(t *testing.T) {
	calls := 0
	got, attempts, err := Retry(context.Background(), "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", io.ErrUnexpectedEOF
		}
		return "done", nil
	}, RetryOptions{Retries: 1, Pause: time.Millisecond})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" || attempts != 2 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
