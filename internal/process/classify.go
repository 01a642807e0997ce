package process

import (
	"regexp"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// Heading and caption patterns: numeric, roman numerals, explicit appendix prefix, and the usual unnumbered section names.
var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+){0,3})\.?\s+(\p{Lu}.*)$`)
	romanHeadingRe    = regexp.MustCompile(`^([IVX]+)\.\s+(\p{Lu}.*)$`)
	appendixHeadingRe = regexp.MustCompile(`^(?:Appendix|APPENDIX)\s+([A-Z](?:\.\d+)*)\b[.:]?\s*(.*)$`)
	namedHeadingRe    = regexp.MustCompile(`(?i)^(abstract|introduction|background|related work|methods?|methodology|materials and methods|results|discussion|conclusions?|limitations|acknowledge?ments?|references|bibliography|appendix|appendices|supplementary materials?)$`)
	markdownHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	captionRe    = regexp.MustCompile(`^(?i:fig(?:ure)?s?\.?|table|tab\.)\s*(?:\d+|[IVX]+|[A-Z]\.\d+|S\d+)\b`)
	figureRe     = regexp.MustCompile(`^(?i:fig(?:ure)?s?\.?)\s*(?:\d+|[IVX]+|[A-Z]\.\d+|S\d+)\b`)
	pageNumberRe = regexp.MustCompile(`^(?:\d{1,4}|[ivxlc]{1,6}|page \d+( of \d+)?)$`)
)

const maxHeadingWords = 14

// headingLevel reports whether a single line reads as a section heading and at which depth.
// larger is the ratio of the line's font size to the body size, or 0 when unknown.
func headingLevel(line string, larger float64) (int, bool) {
	line = strings.TrimSpace(line)
	if line == "" || len(strings.Fields(line)) > maxHeadingWords {
		return 0, false
	}
	if m := markdownHeadingRe.FindStringSubmatch(line); m != nil {
		return len(m[1]), true
	}
	if namedHeadingRe.MatchString(normalizeHeading(line)) {
		return 1, true
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return 0, false
	}
	if m := appendixHeadingRe.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, true
	}
	if m := numberedHeadingRe.FindStringSubmatch(line); m != nil && (larger == 0 || larger >= 1.0) {
		if len(strings.Fields(m[2])) <= maxHeadingWords-2 && !strings.ContainsAny(m[2], "=<>") {
			return strings.Count(m[1], ".") + 1, true
		}
	}
	if m := romanHeadingRe.FindStringSubmatch(line); m != nil {
		return 1, true
	}
	switch {
	case larger >= 1.4:
		return 1, true
	case larger >= 1.15:
		return 2, true
	}
	return 0, false
}

// normalizeHeading drops numbering and trailing punctuation: "7. References:" -> "References".
func normalizeHeading(s string) string {
	s = strings.TrimSpace(s)
	if m := numberedHeadingRe.FindStringSubmatch(s); m != nil {
		s = m[2]
	} else if m := romanHeadingRe.FindStringSubmatch(s); m != nil {
		s = m[2]
	}
	s = strings.TrimRight(s, " .:")
	return strings.Join(strings.Fields(s), " ")
}

func isCaption(s string) bool { return captionRe.MatchString(strings.TrimSpace(s)) }

func isFigureCaption(s string) bool { return figureRe.MatchString(strings.TrimSpace(s)) }

// classifyBlock turns one text block into zero or more elements.
// Runs of space-aligned lines inside a block become table elements.
func classifyBlock(b textBlock, body float64) []domain.Element {
	text := b.text()
	if text == "" || pageNumberRe.MatchString(strings.ToLower(text)) {
		return nil
	}
	el := domain.Element{Page: b.Page, BBox: b.bbox()}

	if isCaption(text) {
		el.Kind, el.Text = domain.KindCaption, text
		return []domain.Element{el}
	}
	if len(b.Lines) <= 2 {
		ratio := 0.0
		if body > 0 {
			ratio = b.size() / body
		}
		if lvl, ok := headingLevel(text, ratio); ok {
			el.Kind, el.Text, el.Level = domain.KindHeading, text, lvl
			return []domain.Element{el}
		}
	}

	lines := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		lines[i] = l.Text
	}
	var out []domain.Element
	for _, run := range splitTableRuns(lines) {
		sub := textBlock{Page: b.Page, Lines: b.Lines[run.start:run.end]}
		e := domain.Element{Page: b.Page, BBox: sub.bbox()}
		if run.rows != nil {
			e.Kind, e.Rows, e.Text = domain.KindTable, run.rows, tableMarkdown(run.rows)
		} else {
			e.Kind, e.Text = domain.KindText, sub.text()
		}
		if e.Text != "" {
			out = append(out, e)
		}
	}
	return out
}

type lineRun struct {
	start, end int
	rows       [][]string
}

// splitTableRuns finds blocks of lines that split into the same number of columns on runs of 2+ spaces.
// Non-table lines are returned as runs with nil rows.
func splitTableRuns(lines []string) []lineRun {
	var out []lineRun
	textStart := 0
	i := 0
	for i < len(lines) {
		start := i
		cols := 0
		var block [][]string
		for i < len(lines) {
			parts := splitBy2Spaces(lines[i])
			if len(parts) < 2 {
				break
			}
			if cols == 0 {
				cols = len(parts)
			}
			if len(parts) != cols {
				break
			}
			block = append(block, parts)
			i++
			if len(block) > 50 {
				break
			}
		}
		if len(block) >= 2 {
			if textStart < start {
				out = append(out, lineRun{start: textStart, end: start})
			}
			out = append(out, lineRun{start: start, end: i, rows: block})
			textStart = i
			continue
		}
		i = start + 1
	}
	if textStart < len(lines) {
		out = append(out, lineRun{start: textStart, end: len(lines)})
	}
	return out
}

var twoPlusSpaces = regexp.MustCompile(`\s{2,}`)

func splitBy2Spaces(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return trimAll(twoPlusSpaces.Split(s, -1))
}

func trimAll(a []string) []string {
	out := make([]string, len(a))
	for i, v := range a {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

// tableMarkdown renders rows as a Markdown table with the first row as header.
func tableMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	var b strings.Builder
	writeRow := func(r []string) {
		cells := make([]string, width)
		for i := range cells {
			if i < len(r) {
				cells[i] = strings.ReplaceAll(strings.TrimSpace(r[i]), "|", `\|`)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	writeRow(rows[0])
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

var nonSlug = regexp.MustCompile(`[^a-z0-9\-]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlug.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}
