/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"fmt"
	"time"

	"github.com/PivotLLM/AIFlow/config"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
)

// New builds a Client for the configured provider. m should come from
// config.Config.Model so that defaults are applied and the API key is resolved.
func New(m config.Model, rl config.RateLimit, logger *logging.Logger) (*Client, error) {
	timeout := time.Duration(m.TimeoutSeconds) * time.Second

	var provider Provider
	switch m.Provider {
	case global.ProviderOpenAI, "":
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:      m.APIKey,
			BaseURL:     m.BaseURL,
			Model:       m.Model,
			MaxTokens:   m.MaxTokens,
			Temperature: m.TemperatureValue(),
			Timeout:     timeout,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case global.ProviderCommand:
		p, err := NewCommandProvider(CommandConfig{
			Command:           m.Command,
			Args:              m.Args,
			Stdin:             m.Stdin,
			Model:             m.Model,
			Timeout:           timeout,
			RateLimitPatterns: m.RateLimitPatterns,
		}, logger)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown model provider %q", m.Provider)
	}

	logger.Infof("Model adapter ready: provider %s, model %s", provider.Name(), provider.ModelName())

	return NewClient(provider,
		WithMaxRetries(m.MaxRetries),
		WithRetryDelay(time.Duration(m.RetryDelayMs)*time.Millisecond),
		WithRateLimiter(NewRateLimiter(rl.MaxRequests, rl.PeriodSeconds)),
		WithLogger(logger),
	), nil
}
