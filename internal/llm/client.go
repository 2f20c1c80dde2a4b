// Package llm wraps the Anthropic Messages API with the office's retry
// policy and error classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dotagent/office/internal/config"
)

var (
	ErrNotInitialized = errors.New("model client not initialized")
	ErrAuthentication = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrServer         = errors.New("server error")
	ErrExhausted      = errors.New("retries exhausted")
)

// APIError is returned by SendMessage once a call has definitively failed.
type APIError struct {
	StatusCode int
	Attempts   int
	Message    string
	Kind       error
	Cause      error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Client struct {
	mu  sync.RWMutex
	api *anthropic.Client

	model       string
	maxTokens   int64
	maxAttempts int
	retryDelay  time.Duration
	baseURL     string
	opts        []option.RequestOption
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(cfg config.ModelConfig) *Client {
	c := &Client{
		model:       cfg.Name,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		baseURL:     cfg.BaseURL,
		sleep:       sleepContext,
	}
	if c.model == "" {
		c.model = "claude-sonnet-4-5-20250929"
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 4096
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Second
	}
	return c
}

// Initialize makes the client ready to call the API with apiKey.
func (c *Client) Initialize(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return &APIError{
			StatusCode: http.StatusUnauthorized,
			Message:    "API key is required",
			Kind:       ErrAuthentication,
		}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are handled by SendMessage
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	opts = append(opts, c.opts...)

	client := anthropic.NewClient(opts...)

	c.mu.Lock()
	c.api = &client
	c.mu.Unlock()
	return nil
}

func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api != nil
}

// SendMessage calls the Messages API, retrying rate limits, server errors
// and network failures with linear backoff. Authentication failures are
// returned immediately.
func (c *Client) SendMessage(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	if api == nil {
		return nil, &APIError{
			Message: "Model client not initialized. Please set ANTHROPIC_API_KEY environment variable.",
			Kind:    ErrNotInitialized,
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toParams(messages),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
	}

	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := api.Messages.New(ctx, params)
		if err == nil {
			return toResponse(resp), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		status, retryAfter, hasRetryAfter := classify(err)
		lastStatus = status
		if status == http.StatusUnauthorized {
			return nil, &APIError{
				StatusCode: status,
				Attempts:   attempt,
				Message:    "Invalid API key. Please check ANTHROPIC_API_KEY environment variable.",
				Kind:       ErrAuthentication,
				Cause:      err,
			}
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff(status, attempt, retryAfter, hasRetryAfter)
		slog.Warn("model call failed, retrying", "attempt", attempt, "status", status, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	switch {
	case lastStatus == http.StatusTooManyRequests:
		return nil, &APIError{
			StatusCode: lastStatus,
			Attempts:   c.maxAttempts,
			Message:    "Rate limit exceeded. Please try again later.",
			Kind:       ErrRateLimited,
			Cause:      lastErr,
		}
	case lastStatus >= 500:
		return nil, &APIError{
			StatusCode: lastStatus,
			Attempts:   c.maxAttempts,
			Message:    fmt.Sprintf("Failed after %d attempts: server error %d", c.maxAttempts, lastStatus),
			Kind:       ErrServer,
			Cause:      lastErr,
		}
	}
	return nil, &APIError{
		StatusCode: lastStatus,
		Attempts:   c.maxAttempts,
		Message:    fmt.Sprintf("Failed after %d attempts: %v", c.maxAttempts, lastErr),
		Kind:       ErrExhausted,
		Cause:      lastErr,
	}
}

func (c *Client) backoff(status, attempt int, retryAfter time.Duration, hasRetryAfter bool) time.Duration {
	if status == http.StatusTooManyRequests {
		if hasRetryAfter {
			return retryAfter
		}
		return c.retryDelay
	}
	return c.retryDelay * time.Duration(attempt)
}

// classify extracts the HTTP status and any retry-after hint. Network
// failures report status 0.
func classify(err error) (status int, retryAfter time.Duration, ok bool) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return 0, 0, false
	}
	status = apiErr.StatusCode
	if apiErr.Response == nil {
		return status, 0, false
	}
	if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return status, time.Duration(secs * float64(time.Second)), true
		}
	}
	return status, 0, false
}

func toParams(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toResponse(resp *anthropic.Message) *Response {
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return &Response{
		Content: strings.Join(parts, "\n"),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
