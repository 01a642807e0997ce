package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"

	"github.com/thywilljoshua/chart-context-study/internal/retry"
)

func TestOpenAIInterpret(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"chatcmpl-1","created":1700000000,"model":"o4-mini-2025-04-16",
			"choices":[{"message":{"content":"A bar chart of sales."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":40,"total_tokens":160,"completion_tokens_details":{"reasoning_tokens":25}}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", ReasoningEffort: "high"})
	require.NoError(t, err)
	res, err := c.Interpret(context.Background(), Request{
		SystemPrompt: "You explain figures.",
		Prompt:       "Interpret this image.",
		Image:        []byte{0x89, 'P', 'N', 'G'},
		MIMEType:     "image/png",
	})
	require.NoError(t, err)

	assert.Equal(t, "A bar chart of sales.", res.Text)
	assert.Equal(t, "o4-mini-2025-04-16", res.Model)
	assert.Equal(t, "chatcmpl-1", res.ResponseID)
	assert.Equal(t, int64(1700000000), res.CreatedAt.Unix())
	assert.Equal(t, 25, res.Usage.ReasoningTokens)
	assert.Equal(t, 160, res.Usage.TotalTokens)

	assert.Equal(t, "o4-mini", got["model"])
	assert.Equal(t, "high", got["reasoning_effort"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You explain figures."}, msgs[0])
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "Interpret this image.", parts[0].(map[string]any)["text"])
	assert.Equal(t, "data:image/png;base64,iVBORw==", parts[1].(map[string]any)["image_url"].(map[string]any)["url"])
}

func TestOpenAIStatusErrors(t *testing.T) {
	code := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, code)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Interpret(context.Background(), Request{Prompt: "p"})
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Contains(t, se.Body, "slow down")
	assert.True(t, IsRetryable(err))

	code = http.StatusBadRequest
	_, err = c.Interpret(context.Background(), Request{Prompt: "p"})
	assert.False(t, IsRetryable(err))
}

func TestOpenAIEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Interpret(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: ProviderOpenAI})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{Provider: ProviderGemini})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{Provider: ProviderVertex})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{Provider: "claude"})
	assert.Error(t, err)
}

func TestIsRetryableGenAIErrors(t *testing.T) {
	assert.True(t, IsRetryable(genai.APIError{Code: 503, Message: "overloaded"}))
	assert.True(t, IsRetryable(fmt.Errorf("call: %w", &genai.APIError{Code: 429})))
	assert.False(t, IsRetryable(genai.APIError{Code: 400}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("bad image")))
}

func TestMIMEType(t *testing.T) {
	assert.Equal(t, "image/jpeg", MIMEType("a/b.jpg"))
	assert.Equal(t, "image/png", MIMEType("a/b.png"))
	assert.Equal(t, "image/png", MIMEType("a/b"))
}
