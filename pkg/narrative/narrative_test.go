package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Disabled(t *testing.T) {
	called := false
	gen := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "text", nil
	})

	out := Summarize(context.Background(), gen, false, "prompt")
	assert.False(t, called)
	assert.Equal(t, StatusDisabled, out.Status)
	assert.Equal(t, Fallback, out.Text)
	assert.NoError(t, out.Err)
}

func TestSummarize_Unconfigured(t *testing.T) {
	out := Summarize(context.Background(), nil, true, "prompt")
	assert.Equal(t, StatusUnconfigured, out.Status)
	assert.Equal(t, Fallback, out.Text)
	assert.ErrorIs(t, out.Err, ErrNoAPIKey)
}

func TestSummarize_Failure(t *testing.T) {
	boom := errors.New("boom")
	gen := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", boom
	})

	out := Summarize(context.Background(), gen, true, "prompt")
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, Fallback, out.Text)
	assert.ErrorIs(t, out.Err, boom)

	var nerr *Error
	require.ErrorAs(t, out.Err, &nerr)
	assert.Equal(t, StatusError, nerr.Status)
}

func TestSummarize_BlankAnswer(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "  \n ", nil
	})

	out := Summarize(context.Background(), gen, true, "prompt")
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, Fallback, out.Text)
	assert.ErrorIs(t, out.Err, ErrEmptyResponse)
}

func TestSummarize_OK(t *testing.T) {
	var got string
	gen := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		got = prompt
		return "  A well connected district.\n", nil
	})

	out := Summarize(context.Background(), gen, true, "the prompt")
	assert.Equal(t, "the prompt", got)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "A well connected district.", out.Text)
	assert.NoError(t, out.Err)
}

func TestNewClaude_NoKey(t *testing.T) {
	_, err := NewClaude("  ")
	require.Error(t, err)

	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, StatusUnconfigured, nerr.Status)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func messageHandler(t *testing.T, content []map[string]any, seen *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen.Store(string(body))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"content":     content,
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":  10,
				"output_tokens": 5,
			},
		})
	}
}

func TestClaudeGenerate(t *testing.T) {
	var seen atomic.Value
	ts := httptest.NewServer(messageHandler(t, []map[string]any{
		{"type": "text", "text": "First paragraph."},
		{"type": "text", "text": "Second paragraph."},
	}, &seen))
	defer ts.Close()

	c, err := NewClaude("test-key", WithBaseURL(ts.URL), WithMaxRetries(0), WithModel("claude-test"), WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, "claude-test", c.Model())

	text, err := c.Generate(context.Background(), "Describe this area")
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", text)

	var req map[string]any
	require.NoError(t, json.Unmarshal([]byte(seen.Load().(string)), &req))
	assert.Equal(t, "claude-test", req["model"])
	assert.EqualValues(t, 64, req["max_tokens"])
	assert.True(t, strings.Contains(seen.Load().(string), "Describe this area"))
}

func TestClaudeGenerate_EmptyContent(t *testing.T) {
	ts := httptest.NewServer(messageHandler(t, []map[string]any{}, nil))
	defer ts.Close()

	c, err := NewClaude("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClaudeGenerate_APIError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": "Internal server error",
			},
		})
	}))
	defer ts.Close()

	c, err := NewClaude("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	require.NoError(t, err)

	out := Summarize(context.Background(), c, true, "prompt")
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, Fallback, out.Text)
	assert.EqualValues(t, 1, calls.Load())
}
