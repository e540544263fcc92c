/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/PivotLLM/AIFlow/global"
)

// OpenAIConfig configures an OpenAIProvider
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint in JSON mode
type OpenAIProvider struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewOpenAIProvider creates a provider. The SDK's own retries are disabled
// because Client applies the retry policy.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, newError(KindAuth, nil, "api key is required for provider %s", global.ProviderOpenAI)
	}
	if cfg.MaxTokens <= 0 {
		return nil, newError(KindInvalidRequest, nil, "max_tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, newError(KindInvalidRequest, nil, "temperature must be between 0 and 2, got %g", cfg.Temperature)
	}

	model := cfg.Model
	if model == "" {
		model = global.DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(global.DefaultTimeout) * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (p *OpenAIProvider) Name() string      { return global.ProviderOpenAI }
func (p *OpenAIProvider) ModelName() string { return p.model }

// Generate performs one chat completion
func (p *OpenAIProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	start := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, newError(KindOther, nil, "model %s returned no choices", p.model)
	}

	choice := completion.Choices[0]
	return &Response{
		Content: choice.Message.Content,
		Model:   string(completion.Model),
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		FinishReason: string(choice.FinishReason),
		Latency:      latency,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// classify maps SDK and transport errors onto the error taxonomy
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return newError(KindRateLimited, err, "model %s", p.model)
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(KindAuth, err, "model %s", p.model)
		case http.StatusNotFound:
			return newError(KindModelNotFound, err, "model %s", p.model)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return newError(KindInvalidRequest, err, "model %s", p.model)
		}
		return newError(KindOther, err, "model %s returned status %d", p.model, apiErr.StatusCode)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindOther, err, "request timed out after %s", p.timeout)
	}
	return newError(KindOther, err, "request to model %s failed", p.model)
}
