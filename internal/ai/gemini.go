package ai

import (
	"context"
	"errors"
	"fmt"

	genai "google.golang.org/genai"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini calls the Gemini API or Vertex AI through the genai SDK.
type Gemini struct {
	client   *genai.Client
	model    string
	provider string
}

// NewGemini returns a client for the Gemini developer API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return newGemini(c, model, ProviderGemini), nil
}

// NewVertex returns a client for Vertex AI using application default credentials.
func NewVertex(ctx context.Context, project, location, model string) (*Gemini, error) {
	if project == "" {
		return nil, errors.New("missing GOOGLE_CLOUD_PROJECT")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{Project: project, Location: location, Backend: genai.BackendVertexAI})
	if err != nil {
		return nil, err
	}
	return newGemini(c, model, ProviderVertex), nil
}

func newGemini(c *genai.Client, model, provider string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: c, model: model, provider: provider}
}

func (g *Gemini) Model() string    { return g.model }
func (g *Gemini) Provider() string { return g.provider }

// Interpret sends the prompt with inline image bytes.
func (g *Gemini) Interpret(ctx context.Context, req Request) (Result, error) {
	mt := req.MIMEType
	if mt == "" {
		mt = "image/png"
	}
	content := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: req.Prompt},
			{InlineData: &genai.Blob{MIMEType: mt, Data: req.Image}},
		},
	}}
	var cfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		cfg = &genai.GenerateContentConfig{SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)}
	}
	res, err := g.client.Models.GenerateContent(ctx, g.model, content, cfg)
	if err != nil {
		return Result{}, err
	}
	text := res.Text()
	if text == "" {
		return Result{}, fmt.Errorf("%s returned no text", g.provider)
	}
	out := Result{Text: text, Model: g.model, ResponseID: res.ResponseID, CreatedAt: res.CreateTime}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			InputTokens:     int(u.PromptTokenCount),
			OutputTokens:    int(u.CandidatesTokenCount),
			ReasoningTokens: int(u.ThoughtsTokenCount),
			TotalTokens:     int(u.TotalTokenCount),
		}
	}
	return out, nil
}
