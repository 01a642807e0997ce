// Package ai puts the multimodal model providers behind one interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	genai "google.golang.org/genai"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/retry"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderVertex = "vertex"
)

// Request is one image interpretation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	Image        []byte
	MIMEType     string
}

// Result is the provider's answer and accounting.
type Result struct {
	Text       string
	Model      string
	ResponseID string
	CreatedAt  time.Time
	Usage      domain.Usage
}

// Interpreter sends an image and a prompt to a model.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (Result, error)
	Model() string
	Provider() string
}

// Options selects and configures a provider.
type Options struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	Project         string
	Location        string
	ReasoningEffort string
	HTTPClient      *http.Client
}

// New returns the Interpreter for opts.Provider.
func New(ctx context.Context, opts Options) (Interpreter, error) {
	switch opts.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(opts)
	case ProviderGemini:
		return NewGemini(ctx, opts.APIKey, opts.Model)
	case ProviderVertex:
		return NewVertex(ctx, opts.Project, opts.Location, opts.Model)
	}
	return nil, fmt.Errorf("unknown provider %q", opts.Provider)
}

// MIMEType guesses the image type from a file name.
func MIMEType(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "image/png"
}

// IsRetryable reports whether a provider error is a rate limit, timeout or server error.
func IsRetryable(err error) bool {
	if retry.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae genai.APIError
	if errors.As(err, &ae) {
		return retry.ShouldRetryStatus(ae.Code)
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return retry.ShouldRetryStatus(pae.Code)
	}
	return false
}
