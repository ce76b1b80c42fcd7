package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the Claude model used when none is configured
	DefaultModel = "claude-haiku-4-5-20251001"

	// DefaultMaxTokens bounds the length of a generated narrative
	DefaultMaxTokens = 1024

	// DefaultTimeout bounds a single generation request
	DefaultTimeout = 60 * time.Second

	systemPrompt = "You are an urban planning expert. Explain infrastructure metrics to community leaders in plain, practical language and finish with concrete recommendations."
)

// Claude generates narratives with the Anthropic Messages API.
type Claude struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

type claudeConfig struct {
	model      string
	maxTokens  int64
	baseURL    string
	maxRetries int
	timeout    time.Duration
}

// ClaudeOption configures a Claude generator
type ClaudeOption func(*claudeConfig)

// WithModel selects the model
func WithModel(model string) ClaudeOption {
	return func(c *claudeConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the output token limit
func WithMaxTokens(n int64) ClaudeOption {
	return func(c *claudeConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithBaseURL points the client at a different API endpoint
func WithBaseURL(u string) ClaudeOption {
	return func(c *claudeConfig) { c.baseURL = u }
}

// WithMaxRetries sets how often the SDK retries a failed request
func WithMaxRetries(n int) ClaudeOption {
	return func(c *claudeConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout bounds each request
func WithTimeout(d time.Duration) ClaudeOption {
	return func(c *claudeConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClaude returns a generator for the given API key. An empty key is an
// unconfigured generator and returns an *Error with StatusUnconfigured.
func NewClaude(apiKey string, opts ...ClaudeOption) (*Claude, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &Error{Status: StatusUnconfigured, Err: ErrNoAPIKey}
	}

	cfg := claudeConfig{
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		maxRetries: 1,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Claude{
		client:    sdk.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Model returns the configured model name
func (c *Claude) Model() string {
	return c.model
}

// Generate sends prompt as a single user message and joins the text blocks
// of the reply.
func (c *Claude) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", &Error{Status: StatusError, Err: fmt.Errorf("create message: %w", err)}
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", &Error{Status: StatusError, Err: ErrEmptyResponse}
	}
	return b.String(), nil
}

// CheckHealth lists a single model to confirm the key and endpoint work.
func (c *Claude) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.client.Models.Get(ctx, c.model, sdk.ModelGetParams{})
	if err != nil {
		return fmt.Errorf("narrative health check failed: %w", err)
	}
	return nil
}
