/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-test",
  "object": "chat.completion",
  "created": 1736937000,
  "model": "gpt-4o-mini-2024-07-18",
  "choices": [
    {
      "index": 0,
      "message": {"role": "assistant", "content": "{\"project_metadata\": {}}"},
      "finish_reason": "stop"
    }
  ],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

func newOpenAITestServer(t *testing.T, status int, body string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "unexpected path %s", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if captured != nil {
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAIProvider(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:      "sk-test",
		BaseURL:     baseURL + "/v1/",
		Model:       "gpt-4o-mini",
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var request map[string]interface{}
	srv := newOpenAITestServer(t, http.StatusOK, completionBody, &request)
	p := newTestOpenAIProvider(t, srv.URL)

	resp, err := p.Generate(context.Background(), "Describe the project", "Respond with valid JSON only.")
	require.NoError(t, err)

	assert.Equal(t, `{"project_metadata": {}}`, resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, resp.Usage)
	assert.False(t, resp.CreatedAt.IsZero())

	assert.Equal(t, "gpt-4o-mini", request["model"])
	assert.EqualValues(t, 512, request["max_tokens"])
	format, ok := request["response_format"].(map[string]interface{})
	require.True(t, ok, "response_format missing")
	assert.Equal(t, "json_object", format["type"])

	messages, ok := request["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", messages[1].(map[string]interface{})["role"])
}

func TestOpenAIProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"unknown model", http.StatusNotFound, KindModelNotFound},
		{"bad request", http.StatusBadRequest, KindInvalidRequest},
		{"server error", http.StatusInternalServerError, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"error": {"message": "request rejected", "type": "test_error", "code": "test"}}`
			srv := newOpenAITestServer(t, tt.status, body, nil)
			p := newTestOpenAIProvider(t, srv.URL)

			_, err := p.Generate(context.Background(), "Describe the project as JSON", "")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	body := `{"id": "x", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini", "choices": []}`
	srv := newOpenAITestServer(t, http.StatusOK, body, nil)
	p := newTestOpenAIProvider(t, srv.URL)

	_, err := p.Generate(context.Background(), "Describe the project as JSON", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{MaxTokens: 10})
	assert.ErrorIs(t, err, ErrAuth)

	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", MaxTokens: 10, Temperature: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.ModelName())
	assert.Equal(t, "openai", p.Name())
}

func TestClientRetriesRateLimitedHTTP(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(t, srv.URL)
	c := NewClient(p, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

	resp, err := c.GenerateWithRetry(context.Background(), "Describe the project as JSON", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 150, resp.Usage.TotalTokens)
}
