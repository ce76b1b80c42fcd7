package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
)

type stubResolver struct {
	place osm.Place
	err   error
	texts []string
}

func (s *stubResolver) Resolve(ctx context.Context, text string) (osm.Place, error) {
	s.texts = append(s.texts, text)
	return s.place, s.err
}

func newPlaceRegistry(f osm.Fetcher, res PlaceResolver) *Registry {
	r := newTestRegistry(f)
	r.resolver = res
	return r
}

func TestHandleAnalyzePlace(t *testing.T) {
	f := &stubFetcher{}
	res := &stubResolver{place: osm.Place{Name: "Test town", Source: osm.SourceNominatim, BBox: testBBox, Confidence: 0.9}}
	r := newPlaceRegistry(f, res)

	result, err := r.HandleAnalyzePlace(context.Background(), toolRequest("analyze_place", map[string]any{
		"place":    "  Test town ",
		"question": "Compare the roads with the next town",
	}))
	require.NoError(t, err)

	out := parseResult[struct {
		Place           osm.Place `json:"place"`
		Classification  struct {
			Category string   `json:"query_category"`
			Intent   string   `json:"query_intent"`
			Metrics  []string `json:"specific_metrics"`
		} `json:"classification"`
		Recommendations []string       `json:"recommendations"`
		Result          map[string]any `json:"result"`
	}](t, result)

	assert.Equal(t, []string{"Test town"}, res.texts)
	assert.Equal(t, "Test town", out.Place.Name)
	assert.Equal(t, testBBox, out.Place.BBox)
	assert.Equal(t, "infrastructure", out.Classification.Category)
	assert.Equal(t, "comparison", out.Classification.Intent)
	assert.Equal(t, []string{"roads"}, out.Classification.Metrics)
	assert.Len(t, out.Recommendations, 3)
	assert.Equal(t, 1.112, out.Result["metrics"].(map[string]any)["roads_km"])
	assert.NotContains(t, out.Result, "features")
	assert.Equal(t, 3, f.calls)
}

func TestHandleAnalyzePlaceClassifiesPlaceWithoutQuestion(t *testing.T) {
	res := &stubResolver{place: osm.Place{Name: "hospital district", BBox: testBBox}}
	r := newPlaceRegistry(&stubFetcher{}, res)

	result, err := r.HandleAnalyzePlace(context.Background(), toolRequest("analyze_place", map[string]any{
		"place": "hospital district",
	}))
	require.NoError(t, err)

	out := parseResult[PlaceAnalysis](t, result)
	assert.Equal(t, "quality_of_life", out.Classification.Category)
	assert.Equal(t, []string{"hospitals"}, out.Classification.Metrics)
}

func TestHandleAnalyzePlaceCoordinates(t *testing.T) {
	f := &stubFetcher{}
	r := newPlaceRegistry(f, osm.NewResolver(nil, nil))

	result, err := r.HandleAnalyzePlace(context.Background(), toolRequest("analyze_place", map[string]any{
		"place": "0.005, 0.005",
	}))
	require.NoError(t, err)

	out := parseResult[PlaceAnalysis](t, result)
	assert.Equal(t, osm.SourceCoordinates, out.Place.Source)
	assert.InDelta(t, -0.045, out.Place.BBox.MinLon, 1e-9)
	assert.InDelta(t, 0.055, out.Place.BBox.MaxLat, 1e-9)
	assert.Equal(t, 3, f.calls)
}

func TestHandleAnalyzePlaceErrors(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		resolver  *stubResolver
		fetchErr  error
		wantCode  core.ErrorCode
		wantFetch bool
	}{
		{
			name:     "missing place",
			args:     map[string]any{},
			resolver: &stubResolver{},
			wantCode: core.ErrMissingParameter,
		},
		{
			name:     "blank place",
			args:     map[string]any{"place": "   "},
			resolver: &stubResolver{},
			wantCode: core.ErrMissingParameter,
		},
		{
			name: "unknown place",
			args: map[string]any{"place": "Atlantis"},
			resolver: &stubResolver{err: core.ValidationError{
				Code:    osm.ErrPlaceNotFound,
				Message: "could not resolve place",
			}},
			wantCode: core.ErrorCode(osm.ErrPlaceNotFound),
		},
		{
			name:      "fetch failure",
			args:      map[string]any{"place": "Test town"},
			resolver:  &stubResolver{place: osm.Place{BBox: testBBox}},
			fetchErr:  &core.FetchError{Service: "overpass", Attempts: 2, Err: errors.New("connection refused")},
			wantCode:  core.ErrNetworkError,
			wantFetch: true,
		},
		{
			name:     "bad retries",
			args:     map[string]any{"place": "Test town", "retries": 9},
			resolver: &stubResolver{place: osm.Place{BBox: testBBox}},
			wantCode: core.ErrInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &stubFetcher{err: tt.fetchErr}
			r := newPlaceRegistry(f, tt.resolver)

			result, err := r.HandleAnalyzePlace(context.Background(), toolRequest("analyze_place", tt.args))
			require.NoError(t, err)
			assertMCPError(t, result, tt.wantCode)
			assert.Equal(t, tt.wantFetch, f.calls > 0)
		})
	}
}

func TestHandleAnalyzePlaceUnconfigured(t *testing.T) {
	r := newTestRegistry(&stubFetcher{})

	result, err := r.HandleAnalyzePlace(context.Background(), toolRequest("analyze_place", map[string]any{
		"place": "Pune",
	}))
	require.NoError(t, err)
	assertMCPError(t, result, core.ErrServiceUnavailable)
}
