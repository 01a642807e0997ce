package tables

import (
	"fmt"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// Response row statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ResponsesHeader is the column set of responses.csv.
var ResponsesHeader = []string{
	"image_id", "article_id", "image_path", "status", "model",
	"with_context", "without_context", "error",
}

// ResponseRow pairs the two responses of one dataset row.
type ResponseRow struct {
	ImageID        string
	ArticleID      string
	ImagePath      string
	Status         string
	Model          string
	WithContext    string
	WithoutContext string
	Error          string
}

// OK reports whether both responses are present.
func (r ResponseRow) OK() bool { return r.Status == StatusOK }

// WriteResponses replaces responses.csv.
func WriteResponses(path string, rows []ResponseRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.ImageID, r.ArticleID, r.ImagePath, r.Status, r.Model,
			r.WithContext, r.WithoutContext, r.Error,
		})
	}
	return WriteAtomic(path, ResponsesHeader, out)
}

// ReadResponses loads responses.csv.
func ReadResponses(path string) ([]ResponseRow, error) {
	t, err := Read(path, ResponsesHeader)
	if err != nil {
		return nil, err
	}
	out := make([]ResponseRow, 0, t.Len())
	for i := range t.Records {
		r := ResponseRow{
			ImageID:        t.Get(i, "image_id"),
			ArticleID:      t.Get(i, "article_id"),
			ImagePath:      t.Get(i, "image_path"),
			Status:         t.Get(i, "status"),
			Model:          t.Get(i, "model"),
			WithContext:    t.Get(i, "with_context"),
			WithoutContext: t.Get(i, "without_context"),
			Error:          t.Get(i, "error"),
		}
		if r.Status != StatusOK && r.Status != StatusFailed {
			return nil, fmt.Errorf("%s row %d: unknown status %q", path, i+2, r.Status)
		}
		out = append(out, r)
	}
	return out, nil
}

// PairsHeader is the column set of eval-pairs.csv.
var PairsHeader = []string{"image_id", "image_path", "text_a", "text_b"}

// Pair is one blinded item shown to raters.
type Pair struct {
	ImageID   string
	ImagePath string
	TextA     string
	TextB     string
}

// WritePairs replaces eval-pairs.csv.
func WritePairs(path string, pairs []Pair) error {
	out := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, []string{p.ImageID, p.ImagePath, p.TextA, p.TextB})
	}
	return WriteAtomic(path, PairsHeader, out)
}

// ReadPairs loads eval-pairs.csv.
func ReadPairs(path string) ([]Pair, error) {
	t, err := Read(path, PairsHeader)
	if err != nil {
		return nil, err
	}
	out := make([]Pair, 0, t.Len())
	for i := range t.Records {
		out = append(out, Pair{
			ImageID:   t.Get(i, "image_id"),
			ImagePath: t.Get(i, "image_path"),
			TextA:     t.Get(i, "text_a"),
			TextB:     t.Get(i, "text_b"),
		})
	}
	return out, nil
}

// AssignmentsHeader is the column set of assignments.csv.
var AssignmentsHeader = []string{"image_id", "a_mode", "b_mode"}

// WriteAssignments replaces assignments.csv.
func WriteAssignments(path string, as []domain.Assignment) error {
	out := make([][]string, 0, len(as))
	for _, a := range as {
		out = append(out, []string{a.ImageID, string(a.AMode), string(a.BMode())})
	}
	return WriteAtomic(path, AssignmentsHeader, out)
}

// ReadAssignments loads assignments.csv keyed by image id.
func ReadAssignments(path string) (map[string]domain.Assignment, error) {
	t, err := Read(path, AssignmentsHeader)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Assignment, t.Len())
	for i := range t.Records {
		a := domain.Assignment{ImageID: t.Get(i, "image_id"), AMode: domain.Mode(t.Get(i, "a_mode"))}
		if a.AMode != domain.WithContext && a.AMode != domain.WithoutContext {
			return nil, fmt.Errorf("%s row %d: unknown mode %q", path, i+2, a.AMode)
		}
		if string(a.BMode()) != t.Get(i, "b_mode") {
			return nil, fmt.Errorf("%s row %d: inconsistent modes", path, i+2)
		}
		out[a.ImageID] = a
	}
	return out, nil
}
