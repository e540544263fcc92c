/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package llm provides the model adapter used by the analysis pipeline.
// A Client wraps a Provider (an OpenAI-compatible HTTP endpoint or a
// command-line model) with rate limiting and the retry policy.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
)

// Usage holds token counts reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one model completion
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        Usage         `json:"usage"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Latency      time.Duration `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
}

// LatencySeconds returns the request latency in seconds
func (r *Response) LatencySeconds() float64 {
	return r.Latency.Seconds()
}

// Provider performs a single model call with no retry.
// Failures should be returned as *Error so the retry policy can classify them.
type Provider interface {
	Name() string
	ModelName() string
	Generate(ctx context.Context, prompt, systemPrompt string) (*Response, error)
}

// Adapter is the model interface consumed by the analysis engine
type Adapter interface {
	GenerateWithRetry(ctx context.Context, prompt, systemPrompt string) (*Response, error)
	ModelName() string
	ValidateConnection(ctx context.Context) error
	ModelInfo() map[string]interface{}
}

// Client implements Adapter over a Provider
type Client struct {
	provider   Provider
	limiter    *RateLimiter
	maxRetries int
	retryDelay time.Duration
	logger     *logging.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithMaxRetries sets the number of attempts made by GenerateWithRetry
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base retry delay
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithRateLimiter gates every provider call through r
func WithRateLimiter(r *RateLimiter) Option {
	return func(c *Client) {
		c.limiter = r
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for provider
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		maxRetries: global.DefaultMaxRetries,
		retryDelay: time.Duration(global.DefaultRetryDelayMs) * time.Millisecond,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelName returns the configured model name
func (c *Client) ModelName() string {
	return c.provider.ModelName()
}

// ModelInfo describes the provider, model and retry settings
func (c *Client) ModelInfo() map[string]interface{} {
	info := map[string]interface{}{
		"provider":       c.provider.Name(),
		"model":          c.provider.ModelName(),
		"max_retries":    c.maxRetries,
		"retry_delay_ms": c.retryDelay.Milliseconds(),
	}
	if c.limiter != nil {
		info["rate_limit_available"] = c.limiter.Available()
	}
	return info
}

// ValidateConnection makes one small call with no retry
func (c *Client) ValidateConnection(ctx context.Context) error {
	if _, err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.provider.Generate(ctx, `Reply with the JSON object {"status": "ok"}`, "")
	if err != nil {
		return fmt.Errorf("connection check for model %s failed: %w", c.provider.ModelName(), err)
	}
	return nil
}

// GenerateWithRetry calls the provider up to maxRetries times.
// Rate limited calls back off exponentially from the retry delay, other
// transient failures wait the retry delay. Authentication, invalid request
// and unknown model errors are returned at once.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt, systemPrompt string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if waited, err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		} else if waited > 0 {
			c.logger.Debugf("Model %s: rate limiter delayed request by %s", c.provider.ModelName(), waited)
		}

		resp, err := c.provider.Generate(ctx, prompt, systemPrompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}

		kind := KindOf(err)
		if permanent(kind) {
			c.logger.Errorf("Model %s: %v", c.provider.ModelName(), err)
			return nil, err
		}
		if attempt == c.maxRetries-1 {
			break
		}

		delay := c.retryDelay
		if kind == KindRateLimited {
			delay = c.retryDelay * time.Duration(1<<attempt)
		}
		c.logger.Warnf("Model %s: attempt %d/%d failed (%v), retrying in %s",
			c.provider.ModelName(), attempt+1, c.maxRetries, err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, newError(KindOther, lastErr, "failed after %d retries", c.maxRetries)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
