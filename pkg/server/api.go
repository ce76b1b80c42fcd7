package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/core"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
	"github.com/NERVsystems/urbanmcp/pkg/osm/queries"
	"github.com/NERVsystems/urbanmcp/pkg/tools"
)

// API exposes the analysis pipeline as plain JSON over HTTP.
type API struct {
	analyzer *analysis.Analyzer
	resolver tools.PlaceResolver
	logger   *slog.Logger
}

// NewAPI creates the REST handlers. resolver may be nil, in which case
// requests naming a place are refused.
func NewAPI(analyzer *analysis.Analyzer, logger *slog.Logger, resolver tools.PlaceResolver) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{analyzer: analyzer, resolver: resolver, logger: logger}
}

// AnalyzeRequest is the body of POST /api/v1/analyze. Exactly one of
// BBox and Place is set.
type AnalyzeRequest struct {
	BBox            any    `json:"bbox"`
	Place           string `json:"place,omitempty"`
	Question        string `json:"question,omitempty"`
	IncludeFeatures bool   `json:"include_features"`
	Retries         *int   `json:"retries,omitempty"`
}

// HandleAnalyze runs one analysis. Invalid input is a 400, an unknown
// place a 404, a failed fetch a 502.
func (a *API) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, core.NewError(core.ErrServiceUnavailable, "analysis is not configured"))
		return
	}

	var req AnalyzeRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, core.NewError(core.ErrInvalidInput, "request body too large"))
			return
		}
		writeError(w, http.StatusBadRequest, core.NewError(core.ErrInvalidInput, "request body is not valid JSON").
			WithGuidance(`Send {"bbox": [min_lon, min_lat, max_lon, max_lat]}`))
		return
	}

	analyzer := a.analyzer
	if req.Retries != nil {
		if err := core.ValidateRetries(*req.Retries); err != nil {
			writeError(w, http.StatusBadRequest, core.ToMCPError(err))
			return
		}
		analyzer = analyzer.WithRetries(*req.Retries)
	}

	if req.Place != "" {
		a.analyzePlace(w, r, analyzer, req)
		return
	}

	result, err := analyzer.Analyze(r.Context(), req.BBox)
	if err != nil {
		a.failed(w, r, err)
		return
	}

	if !req.IncludeFeatures {
		result = result.WithoutFeatures()
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) analyzePlace(w http.ResponseWriter, r *http.Request, analyzer *analysis.Analyzer, req AnalyzeRequest) {
	if req.BBox != nil {
		writeError(w, http.StatusBadRequest, core.NewError(core.ErrInvalidInput, "send either bbox or place, not both"))
		return
	}
	if a.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, core.NewError(core.ErrServiceUnavailable, "place lookup is not configured"))
		return
	}

	place, err := a.resolver.Resolve(r.Context(), req.Place)
	if err != nil {
		a.failed(w, r, err)
		return
	}

	result, err := analyzer.AnalyzeBBox(r.Context(), place.BBox)
	if err != nil {
		a.failed(w, r, err)
		return
	}
	if !req.IncludeFeatures {
		result = result.WithoutFeatures()
	}

	question := req.Question
	if question == "" {
		question = req.Place
	}
	class := analysis.ClassifyQuery(question)
	writeJSON(w, http.StatusOK, tools.PlaceAnalysis{
		Place:           place,
		Classification:  class,
		Recommendations: analysis.Recommendations(class.Category),
		Result:          result,
	})
}

// failed logs err and writes it with the matching status. A canceled
// request gets no response.
func (a *API) failed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Warn("analysis request failed",
		"request_id", RequestIDFromContext(r.Context()),
		"error", err)
	writeError(w, statusForError(err), core.ToMCPError(err))
}

// HandleQueries returns the three profile queries for ?bbox=a,b,c,d
// without running them.
func (a *API) HandleQueries(w http.ResponseWriter, r *http.Request) {
	bbox, err := geo.ParseBoundingBoxString(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, core.ToMCPError(err))
		return
	}
	writeJSON(w, http.StatusOK, queries.ProfileQueries(bbox))
}

func statusForError(err error) int {
	var ve core.ValidationError
	if errors.As(err, &ve) {
		if ve.Code == osm.ErrPlaceNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	}
	var fe *core.FetchError
	if errors.As(err, &fe) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, e *core.MCPError) {
	writeJSON(w, code, map[string]any{"error": e})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
