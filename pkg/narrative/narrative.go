// Package narrative turns a finished metrics profile into prose using an
// external text-generation service. Failures never escape: callers get the
// Fallback text and a Status describing what happened.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/urbanmcp/pkg/tracing"
)

// Fallback replaces the narrative whenever the generator is disabled,
// unconfigured or fails.
const Fallback = "Narrative analysis is unavailable for this area. The metrics above were computed directly from OpenStreetMap data."

// Status records how the narrative field was produced.
type Status string

const (
	StatusOK           Status = "ok"
	StatusDisabled     Status = "disabled"
	StatusUnconfigured Status = "unconfigured"
	StatusError        Status = "error"
)

var (
	// ErrNoAPIKey is returned when a generator is built without credentials.
	ErrNoAPIKey = errors.New("narrative: no API key configured")

	// ErrEmptyResponse is returned when the service answers with no text.
	ErrEmptyResponse = errors.New("narrative: empty response")
)

// Generator produces free-form text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Error describes a narrative failure. It is recorded, never propagated to
// analysis callers.
type Error struct {
	Status Status
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("narrative %s: %v", e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome is the result of Summarize.
type Outcome struct {
	Text     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Summarize asks gen for a narrative. A nil generator yields
// StatusUnconfigured; enabled=false yields StatusDisabled. Any error or blank
// answer yields StatusError. In every non-ok case Text is Fallback.
func Summarize(ctx context.Context, gen Generator, enabled bool, prompt string) Outcome {
	if !enabled {
		return Outcome{Text: Fallback, Status: StatusDisabled}
	}
	if gen == nil {
		return Outcome{
			Text:   Fallback,
			Status: StatusUnconfigured,
			Err:    &Error{Status: StatusUnconfigured, Err: ErrNoAPIKey},
		}
	}

	ctx, span := tracing.StartSpan(ctx, "narrative.generate",
		trace.WithAttributes(
			attribute.String(tracing.AttrService, tracing.ServiceNarrative),
			attribute.Int("narrative.prompt_length", len(prompt)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := gen.Generate(ctx, prompt)
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		var nerr *Error
		if !errors.As(err, &nerr) {
			nerr = &Error{Status: StatusError, Err: err}
		}
		span.RecordError(nerr)
		span.SetStatus(codes.Error, string(nerr.Status))
		slog.Default().With("component", "narrative").
			Warn("narrative generation failed, using fallback", "status", nerr.Status, "error", nerr.Err, "duration", elapsed)
		return Outcome{Text: Fallback, Status: nerr.Status, Err: nerr, Duration: elapsed}
	}

	span.SetAttributes(attribute.Int("narrative.text_length", len(text)))
	span.SetStatus(codes.Ok, "")
	return Outcome{Text: strings.TrimSpace(text), Status: StatusOK, Duration: elapsed}
}
