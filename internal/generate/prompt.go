package generate

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// DefaultSystemPrompt is used when no system prompt file is configured.
const DefaultSystemPrompt = `You are an expert in data visualization and scientific communication.
You are shown a single image taken from an academic article: a chart, plot, diagram or figure.
Explain what the image shows and what it reveals for a reader who cannot see it.
Describe the type of visual, its axes, legends and encodings, the main patterns and notable values,
and the conclusion a careful reader would draw. Do not invent values that are not visible.
Answer in plain prose without headings or bullet lists.`

const contextPrompt = "Additional textual context from the document where this image appears:\n\n%s\n\n" +
	"Use this context to ground your interpretation and enhance the accuracy of your explanation. "

// BuildPrompt appends the document context to the base prompt for the with-context condition.
func BuildPrompt(base string, mode domain.Mode, context string) string {
	if mode != domain.WithContext || strings.TrimSpace(context) == "" {
		return base
	}
	return base + fmt.Sprintf(contextPrompt, context)
}

// LoadSystemPrompt reads the system prompt from path, or returns the default for an empty path.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ArtifactKey is the store key of the raw response for one image and mode.
// Stores are rooted at the responses directory (or prefix), so the full name is responses/<image>/<mode>.json.
func ArtifactKey(imageID string, mode domain.Mode) string {
	return path.Join(imageID, string(mode)+".json")
}
