package osm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

const sampleResponse = `{
  "version": 0.6,
  "generator": "Overpass API",
  "elements": [
    {"type": "node", "id": 1, "lat": 52.5, "lon": 13.4, "tags": {"amenity": "hospital"}},
    {"type": "way", "id": 2, "tags": {"highway": "residential"},
     "geometry": [{"lat": 52.5, "lon": 13.4}, {"lat": 52.51, "lon": 13.41}]}
  ]
}`

func TestClientFetch(t *testing.T) {
	var gotBody, gotType, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithUserAgent("test-agent/1.0"))
	resp, err := c.Fetch(context.Background(), "[out:json];node(1,2,3,4);out;", core.DefaultRetryOptions)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotBody != "[out:json];node(1,2,3,4);out;" {
		t.Errorf("query not sent as body: %q", gotBody)
	}
	if gotType != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("unexpected user agent %q", gotUA)
	}

	if len(resp.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(resp.Elements))
	}
	if resp.Elements[0].Type != TypeNode || resp.Elements[0].Tags["amenity"] != "hospital" {
		t.Errorf("unexpected node: %+v", resp.Elements[0])
	}
	if resp.Elements[1].Type != TypeWay || len(resp.Elements[1].Geometry) != 2 {
		t.Errorf("unexpected way: %+v", resp.Elements[1])
	}
	if got := resp.Elements[1].FeatureID().String(); got != "way/2" {
		t.Errorf("unexpected feature id %s", got)
	}
}

func TestClientFetchRetries(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		retries     int
		wantErr     bool
		wantAttempt int32
	}{
		{name: "first attempt succeeds", failures: 0, retries: 1, wantAttempt: 1},
		{name: "recovers within retries", failures: 1, retries: 1, wantAttempt: 2},
		{name: "recovers on last retry", failures: 3, retries: 3, wantAttempt: 4},
		{name: "exhausts retries", failures: 2, retries: 1, wantErr: true, wantAttempt: 2},
		{name: "no retries", failures: 1, retries: 0, wantErr: true, wantAttempt: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) <= tt.failures {
					w.WriteHeader(http.StatusGatewayTimeout)
					return
				}
				w.Write([]byte(`{"elements":[]}`))
			}))
			defer server.Close()

			c := NewClient(WithBaseURL(server.URL), WithRateLimit(0, 1))
			_, err := c.Fetch(context.Background(), "q", core.RetryOptions{Retries: tt.retries, Pause: time.Millisecond})

			if tt.wantErr {
				var fe *core.FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FetchError, got %v", err)
				}
				if fe.Attempts != tt.retries+1 {
					t.Errorf("attempts = %d, want %d", fe.Attempts, tt.retries+1)
				}
				if fe.Code() != core.ErrServiceTimeout {
					t.Errorf("code = %s", fe.Code())
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := atomic.LoadInt32(&calls); got != tt.wantAttempt {
				t.Errorf("server saw %d calls, want %d", got, tt.wantAttempt)
			}
		})
	}
}

func TestClientFetchParseError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>rate limited</html>"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	_, err := c.Fetch(context.Background(), "q", core.RetryOptions{Retries: 2, Pause: time.Millisecond})

	var fe *core.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Code() != core.ErrParseError {
		t.Errorf("code = %s, want PARSE_ERROR", fe.Code())
	}
	if calls != 1 {
		t.Errorf("parse errors must not be retried, saw %d calls", calls)
	}
}

func TestClientFetchContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(WithBaseURL(server.URL))

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "q", core.RetryOptions{Retries: 5, Pause: time.Minute})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}

func TestClientCheckHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("data") == "" {
			t.Error("health check must send a query")
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	status.Store(http.StatusBadGateway)
	if err := c.CheckHealth(context.Background()); err == nil {
		t.Error("expected error for 502")
	}
}

const timeoutRemarkResponse = `{
  "version": 0.6,
  "remark": "runtime error: Query timed out in \"query\" at line 1 after 61 seconds.",
  "elements": [{"type": "node", "id": 1, "lat": 52.5, "lon": 13.4}]
}`

func TestClientFetchRuntimeErrorRemark(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		retries   int
		wantCode  core.ErrorCode
		wantCalls int32
	}{
		{name: "retried until clean", failures: 1, retries: 1, wantCalls: 2},
		{name: "persistent timeout", failures: 10, retries: 1, wantCode: core.ErrServiceTimeout, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if atomic.AddInt32(&calls, 1) <= tt.failures {
					w.Write([]byte(timeoutRemarkResponse))
					return
				}
				w.Write([]byte(sampleResponse))
			}))
			defer server.Close()

			c := NewClient(WithBaseURL(server.URL), WithRateLimit(0, 1))
			resp, err := c.Fetch(context.Background(), "q", core.RetryOptions{Retries: tt.retries, Pause: time.Millisecond})

			if tt.wantCode != "" {
				var fe *core.FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FetchError, got %v", err)
				}
				if fe.Code() != tt.wantCode {
					t.Errorf("code = %s, want %s", fe.Code(), tt.wantCode)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(resp.Elements) != 2 {
					t.Errorf("expected the complete response, got %d elements", len(resp.Elements))
				}
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("server saw %d calls, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestClientFetchInformationalRemark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"remark": "area data is outdated", "elements": []}`))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	resp, err := c.Fetch(context.Background(), "q", core.RetryOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Remark != "area data is outdated" {
		t.Errorf("remark not preserved: %q", resp.Remark)
	}
}

func TestRemarkIsRuntimeError(t *testing.T) {
	for remark, want := range map[string]bool{
		"": false,
		"runtime error: Query run out of memory using about 2048 MB of RAM.": true,
		"Runtime Error: timeout":  true,
		"area data is outdated":   false,
	} {
		r := Response{Remark: remark}
		if got := r.RemarkIsRuntimeError(); got != want {
			t.Errorf("RemarkIsRuntimeError(%q) = %v, want %v", remark, got, want)
		}
	}
}
