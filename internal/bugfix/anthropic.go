package bugfix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	anthropicVersion    = "2023-06-01"
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	maxResponseBytes    = 1 << 20
)

// ErrNoAPIKey is returned when an LLM provider is selected without a key.
var ErrNoAPIKey = errors.New("llm api key required")

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicSuggester asks the Anthropic Messages API for a fix.
type AnthropicSuggester struct {
	model        string
	baseURL      string
	apiKey       config.Secret
	maxTokens    int
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   uint
	retryBackoff time.Duration
	logger       *logging.Logger
}

// AnthropicOption configures an AnthropicSuggester.
type AnthropicOption func(*AnthropicSuggester)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicSuggester) { a.httpClient = c }
}

// WithRetries sets the retry budget and the initial backoff.
func WithRetries(n uint, initial time.Duration) AnthropicOption {
	return func(a *AnthropicSuggester) {
		a.maxRetries = n
		if initial > 0 {
			a.retryBackoff = initial
		}
	}
}

// WithSuggesterLogger sets the logger.
func WithSuggesterLogger(l *logging.Logger) AnthropicOption {
	return func(a *AnthropicSuggester) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnthropicSuggester creates a suggester from the llm configuration.
func NewAnthropicSuggester(cfg config.LLMConfig, opts ...AnthropicOption) (*AnthropicSuggester, error) {
	if !cfg.APIKey.IsSet() {
		return nil, ErrNoAPIKey
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	a := &AnthropicSuggester{
		model:        cfg.Model,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		maxTokens:    cfg.MaxTokens,
		httpClient:   &http.Client{Timeout: cfg.Timeout.Duration()},
		limiter:      rate.NewLimiter(limit, burst),
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewSuggester returns the Suggester selected by cfg.Provider, or nil for
// provider "none".
func NewSuggester(cfg config.LLMConfig, logger *logging.Logger) (Suggester, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		s, err := NewAnthropicSuggester(cfg, WithSuggesterLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}

// Suggest implements Suggester.
func (a *AnthropicSuggester) Suggest(ctx context.Context, f Failure) (*workflow.BugfixSuggestion, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: 0.2,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: BuildPrompt(f)}},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.retryBackoff
	resp, err := backoff.Retry(ctx, func() (*anthropicResponse, error) {
		return a.do(ctx, req)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(a.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Debug(ctx, "retrying llm request", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, errors.New("empty response from llm")
	}

	s := ParseResponse(text.String())
	s.Model = resp.Model
	if s.Model == "" {
		s.Model = a.model
	}
	return s, nil
}

// do sends one request. Rate-limit and server errors are retryable; every
// other failure is permanent.
func (a *AnthropicSuggester) do(ctx context.Context, req anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey.Value())
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New("llm rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("llm server error (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var apiErr anthropicError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, backoff.Permanent(fmt.Errorf("llm api error (%d): %s", resp.StatusCode, apiErr.Error.Message))
		}
		return nil, backoff.Permanent(fmt.Errorf("llm api error (%d)", resp.StatusCode))
	}

	var out anthropicResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse llm response: %w", err))
	}
	return &out, nil
}
