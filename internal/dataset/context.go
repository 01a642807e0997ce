package dataset

import (
	"regexp"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// Context modes.
const (
	ModeWindow  = "window"
	ModeSection = "section"
)

var (
	formulaRe  = regexp.MustCompile(`<!-- formula-not-decoded -->`)
	imageRefRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	blankRe    = regexp.MustCompile(`\n\s*\n+`)
)

// cleanText drops converter placeholders and image references and collapses blank lines.
func cleanText(s string) string {
	s = formulaRe.ReplaceAllString(s, "")
	s = imageRefRe.ReplaceAllString(s, "")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// block is a context element after cleaning.
type block struct {
	index int
	text  string
}

func contextBlocks(doc *domain.Document) []block {
	var out []block
	for _, e := range doc.Elements {
		if !e.IsContext() {
			continue
		}
		if t := cleanText(e.Text); t != "" {
			out = append(out, block{index: e.Index, text: t})
		}
	}
	return out
}

// window returns up to before blocks preceding element k and up to after blocks following it.
// Nothing is padded at the document boundaries.
func window(blocks []block, k, before, after int) (pre, post []string) {
	split := len(blocks)
	for i, b := range blocks {
		if b.index > k {
			split = i
			break
		}
	}
	lo := max(0, split-before)
	for _, b := range blocks[lo:split] {
		pre = append(pre, b.text)
	}
	hi := min(len(blocks), split+after)
	for _, b := range blocks[split:hi] {
		post = append(post, b.text)
	}
	return pre, post
}

// section returns the blocks of the innermost section containing element k, split around it.
// A document without headings is one section.
func section(blocks []block, outline []domain.Section, k, total int) (pre, post []string) {
	start, end := 0, total
	if s, ok := innermost(outline, k); ok {
		start, end = s.Start, s.End
	}
	for _, b := range blocks {
		switch {
		case b.index < start || b.index >= end:
		case b.index < k:
			pre = append(pre, b.text)
		case b.index > k:
			post = append(post, b.text)
		}
	}
	return pre, post
}

func innermost(sections []domain.Section, k int) (domain.Section, bool) {
	for _, s := range sections {
		if k < s.Start || k >= s.End {
			continue
		}
		if c, ok := innermost(s.Children, k); ok {
			return c, true
		}
		return s, true
	}
	return domain.Section{}, false
}

// excludedFrom marks the elements that follow a heading containing one of terms, case-insensitively.
func excludedFrom(doc *domain.Document, terms []string) map[int]bool {
	out := make(map[int]bool)
	if len(terms) == 0 {
		return out
	}
	lower := make([]string, len(terms))
	for i, t := range terms {
		lower[i] = strings.ToLower(strings.TrimSpace(t))
	}
	off := false
	for _, e := range doc.Elements {
		if !off && e.Kind == domain.KindHeading {
			h := strings.ToLower(e.Text)
			for _, t := range lower {
				if t != "" && strings.Contains(h, t) {
					off = true
					break
				}
			}
		}
		if off {
			out[e.Index] = true
		}
	}
	return out
}

func joinContext(pre, post []string) string {
	parts := make([]string, 0, len(pre)+len(post))
	parts = append(parts, pre...)
	parts = append(parts, post...)
	return cleanText(strings.Join(parts, "\n\n"))
}
