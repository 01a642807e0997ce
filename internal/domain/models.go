// Package domain holds the records exchanged between pipeline stages.
package domain

import "time"

// Article is a downloaded source document.
type Article struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Title           string    `json:"title"`
	DOI             string    `json:"doi,omitempty"`
	PeerReviewedDOI string    `json:"peer_reviewed_doi,omitempty"`
	Authors         []string  `json:"authors,omitempty"`
	License         string    `json:"license,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	DownloadURL     string    `json:"download_url,omitempty"`
	Published       time.Time `json:"published,omitempty"`
	Path            string    `json:"path,omitempty"`
}

// ElementKind classifies an element of a processed document.
type ElementKind string

const (
	KindText    ElementKind = "text"
	KindHeading ElementKind = "heading"
	KindCaption ElementKind = "caption"
	KindTable   ElementKind = "table"
	KindImage   ElementKind = "image"
)

// BBox is a rectangle in PDF points with the origin at the bottom left of the page.
// It is zero for formats without page geometry.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// IsZero reports whether the box carries no geometry.
func (b BBox) IsZero() bool { return b == BBox{} }

// ImageInfo describes an image extracted from a document.
type ImageInfo struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Element is one node of a document in reading order.
type Element struct {
	Index int         `json:"index"`
	Kind  ElementKind `json:"kind"`
	Page  int         `json:"page"`
	BBox  BBox        `json:"bbox"`
	Text  string      `json:"text,omitempty"`
	Level int         `json:"level,omitempty"`
	Rows  [][]string  `json:"rows,omitempty"`
	Image *ImageInfo  `json:"image,omitempty"`
}

// IsContext reports whether the element can contribute to an image's context.
func (e Element) IsContext() bool {
	switch e.Kind {
	case KindText, KindHeading, KindCaption, KindTable:
		return e.Text != ""
	}
	return false
}

// Section is a heading and the element range it governs, [Start, End).
type Section struct {
	Title    string    `json:"title"`
	Level    int       `json:"level"`
	Start    int       `json:"start"`
	End      int       `json:"end"`
	Children []Section `json:"children,omitempty"`
}

// Document is the structured representation produced by the processor.
type Document struct {
	ArticleID   string    `json:"article_id"`
	SourcePath  string    `json:"source_path"`
	Format      string    `json:"format"`
	Pages       int       `json:"pages"`
	Elements    []Element `json:"elements"`
	Outline     []Section `json:"outline,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Images returns the image elements in reading order.
func (d *Document) Images() []Element {
	var out []Element
	for _, e := range d.Elements {
		if e.Kind == KindImage && e.Image != nil {
			out = append(out, e)
		}
	}
	return out
}

// ImageRecord is one row of the image-context dataset.
type ImageRecord struct {
	ImageID         string
	ArticleID       string
	ImagePath       string
	SourceImagePath string
	Page            int
	ContextBefore   []string
	ContextAfter    []string
	Context         string
}

// Mode is the generation condition of a response.
type Mode string

const (
	WithContext    Mode = "with_context"
	WithoutContext Mode = "without_context"
)

// Modes lists both conditions in the order they are generated.
var Modes = []Mode{WithoutContext, WithContext}

// Usage reports token accounting returned by a provider.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

// Response is one persisted generation artifact.
type Response struct {
	ImageID      string    `json:"image_id"`
	Mode         Mode      `json:"mode"`
	Text         string    `json:"output_text"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	ResponseID   string    `json:"response_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	GeneratedAt  time.Time `json:"generated_at"`
	Usage        Usage     `json:"usage"`
	Prompt       string    `json:"prompt_used"`
	SystemPrompt string    `json:"dev_message"`
	Attempts     int       `json:"attempts"`
}

// Preference is the pairwise judgment of a rater.
type Preference string

const (
	PreferA     Preference = "A"
	PreferB     Preference = "B"
	PreferEqual Preference = "Equal"
)

// EvaluationEntry is one blinded rating submitted by a rater.
type EvaluationEntry struct {
	SessionID   string
	RaterID     string
	ImageID     string
	ScoresA     map[string]int
	ScoresB     map[string]int
	Preference  Preference
	Comments    string
	SubmittedAt time.Time
}

// Assignment maps presentation positions to generation modes for one image.
type Assignment struct {
	ImageID string
	AMode   Mode
}

// BMode returns the mode shown in position B.
func (a Assignment) BMode() Mode {
	if a.AMode == WithContext {
		return WithoutContext
	}
	return WithContext
}
