package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/retry"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "o4-mini"
	maxErrorBody       = 512
)

// OpenAI calls an OpenAI-compatible chat completions endpoint (OpenAI, OpenRouter).
type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	effort     string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int `json:"prompt_tokens"`
		CompletionTokens        int `json:"completion_tokens"`
		TotalTokens             int `json:"total_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// NewOpenAI returns a chat completions client.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	c := &OpenAI{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		effort:     opts.ReasoningEffort,
		httpClient: opts.HTTPClient,
	}
	if c.model == "" {
		c.model = defaultOpenAIModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c, nil
}

func (c *OpenAI) Model() string    { return c.model }
func (c *OpenAI) Provider() string { return ProviderOpenAI }

// Interpret sends one chat completion with the image as a base64 data URL.
// Non-2xx responses are returned as *retry.StatusError.
func (c *OpenAI) Interpret(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return Result{}, errors.New("completion returned no text")
	}

	out := Result{
		Text:       cr.Choices[0].Message.Content,
		Model:      cr.Model,
		ResponseID: cr.ID,
		Usage: domain.Usage{
			InputTokens:     cr.Usage.PromptTokens,
			OutputTokens:    cr.Usage.CompletionTokens,
			ReasoningTokens: cr.Usage.CompletionTokensDetails.ReasoningTokens,
			TotalTokens:     cr.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if cr.Created > 0 {
		out.CreatedAt = time.Unix(cr.Created, 0).UTC()
	}
	return out, nil
}

func (c *OpenAI) buildRequest(req Request) chatRequest {
	mt := req.MIMEType
	if mt == "" {
		mt = "image/png"
	}
	var msgs []chatMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: []contentPart{
		{Type: "text", Text: req.Prompt},
		{Type: "image_url", ImageURL: &imageURL{URL: "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(req.Image)}},
	}})
	return chatRequest{Model: c.model, Messages: msgs, ReasoningEffort: c.effort}
}
