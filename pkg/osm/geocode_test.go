package osm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

const puneSearchResponse = `[{
  "place_id": 1,
  "category": "boundary",
  "type": "administrative",
  "display_name": "Pune, Maharashtra, India",
  "lat": "18.5213738",
  "lon": "73.8545071",
  "importance": 0.71,
  "boundingbox": ["18.4374", "18.6248", "73.7394", "73.9860"]
}]`

func TestGeocoderSearch(t *testing.T) {
	var gotPath, gotQ, gotFormat, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQ = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(puneSearchResponse))
	}))
	defer server.Close()

	g := NewGeocoder(WithNominatimURL(server.URL+"/"), WithGeocoderUserAgent("test-agent/1.0"), WithGeocoderRateLimit(0))
	res, found, err := g.Search(context.Background(), "Pune")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !found {
		t.Fatal("expected a match")
	}

	if gotPath != "/search" || gotQ != "Pune" || gotFormat != "jsonv2" {
		t.Errorf("unexpected request path=%q q=%q format=%q", gotPath, gotQ, gotFormat)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("unexpected user agent %q", gotUA)
	}
	if res.DisplayName != "Pune, Maharashtra, India" || res.Class != "boundary" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Lat != 18.5213738 || res.Lon != 73.8545071 {
		t.Errorf("unexpected centre %v,%v", res.Lat, res.Lon)
	}
	// boundingbox is reordered from lat-first to lon-first.
	if res.BBox.MinLon != 73.7394 || res.BBox.MinLat != 18.4374 || res.BBox.MaxLon != 73.9860 || res.BBox.MaxLat != 18.6248 {
		t.Errorf("unexpected bbox %+v", res.BBox)
	}
}

func TestGeocoderSearchNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g := NewGeocoder(WithNominatimURL(server.URL), WithGeocoderRateLimit(0))
	_, found, err := g.Search(context.Background(), "Atlantis")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if found {
		t.Error("expected no match")
	}
}

func TestGeocoderSearchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
		wantCode  core.ErrorCode
	}{
		{"server error retried", http.StatusServiceUnavailable, "", 2, core.ErrServiceUnavailable},
		{"rate limited retried", http.StatusTooManyRequests, "", 2, core.ErrRateLimit},
		{"bad json not retried", http.StatusOK, "<html>", 1, core.ErrParseError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			rec := &hookRecorder{}
			g := NewGeocoder(
				WithNominatimURL(server.URL),
				WithGeocoderRateLimit(0),
				WithGeocoderRetry(core.RetryOptions{Retries: 1, Pause: time.Millisecond}),
				WithGeocoderHooks(rec.hooks()),
			)
			_, _, err := g.Search(context.Background(), "Pune")
			if err == nil {
				t.Fatal("expected an error")
			}

			var fe *core.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %T: %v", err, err)
			}
			if fe.Service != "nominatim" {
				t.Errorf("unexpected service %q", fe.Service)
			}
			if fe.Code() != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, fe.Code())
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Errorf("expected %d calls, got %d", tc.wantCalls, got)
			}
			if rec.requests != int(tc.wantCalls) {
				t.Errorf("expected %d hook requests, got %d", tc.wantCalls, rec.requests)
			}
		})
	}
}

func TestGeocoderCheckHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	g := NewGeocoder(WithNominatimURL(server.URL))
	if err := g.CheckHealth(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	status.Store(http.StatusBadGateway)
	if err := g.CheckHealth(context.Background()); err == nil {
		t.Error("expected an error for a 502")
	}
}

func TestNominatimPlaceWithoutBoundingBox(t *testing.T) {
	res, err := nominatimPlace{Lat: "10.5", Lon: "20.25"}.result()
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if res.BBox.MinLon != 20.25 || res.BBox.MaxLat != 10.5 {
		t.Errorf("expected a point box, got %+v", res.BBox)
	}

	if _, err := (nominatimPlace{Lat: "north", Lon: "1"}).result(); err == nil {
		t.Error("expected an error for a non-numeric latitude")
	}
}
