package process

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	rpdf "rsc.io/pdf"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// textLine is a run of glyphs sharing a baseline.
type textLine struct {
	Y    float64
	X0   float64
	X1   float64
	Size float64
	Text string
}

// textBlock is a group of consecutive lines separated from its neighbours by vertical space or a font change.
type textBlock struct {
	Page  int
	Lines []textLine
}

// pdfPage is the text of one page with its MediaBox and the boxes its images are painted in,
// keyed by XObject resource name.
type pdfPage struct {
	Number     int
	Blocks     []textBlock
	Box        domain.BBox
	Placements map[string]domain.BBox
}

// readPDF extracts text blocks page by page. rsc.io/pdf panics on streams it cannot decode,
// so a panic is turned into an error for this document only.
func readPDF(path string) (pages []pdfPage, n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	doc, err := rpdf.NewReader(f, st.Size())
	if err != nil {
		return nil, 0, err
	}

	n = doc.NumPage()
	for i := 1; i <= n; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		lines := groupLines(p.Content().Text)
		pg := pdfPage{Number: i, Blocks: groupBlocks(i, lines), Box: pageBox(p)}
		// Images without a known placement fall back to the page box.
		pg.Placements, _ = imagePlacements(p)
		pages = append(pages, pg)
	}
	return pages, n, nil
}

// groupLines orders glyphs top to bottom and left to right and joins them into lines.
// Wide horizontal gaps become two spaces so column layouts survive for table detection.
func groupLines(glyphs []rpdf.Text) []textLine {
	gs := make([]rpdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			gs = append(gs, g)
		}
	}
	if len(gs) == 0 {
		return nil
	}
	sort.SliceStable(gs, func(i, j int) bool {
		if gs[i].Y != gs[j].Y {
			return gs[i].Y > gs[j].Y
		}
		return gs[i].X < gs[j].X
	})

	var (
		out []textLine
		cur []rpdf.Text
	)
	flush := func() {
		if len(cur) > 0 {
			if l, ok := buildLine(cur); ok {
				out = append(out, l)
			}
		}
		cur = nil
	}
	for _, g := range gs {
		if len(cur) > 0 {
			ref := cur[0]
			tol := math.Max(ref.FontSize, g.FontSize) * 0.5
			if math.Abs(ref.Y-g.Y) > tol {
				flush()
			}
		}
		cur = append(cur, g)
	}
	flush()
	return out
}

func buildLine(gs []rpdf.Text) (textLine, bool) {
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].X < gs[j].X })

	var b strings.Builder
	line := textLine{Y: gs[0].Y, X0: gs[0].X, Size: dominantSize(gs)}
	prevEnd := gs[0].X
	prevSpace := true
	for i, g := range gs {
		if i > 0 && !prevSpace && g.S != " " {
			gap := g.X - prevEnd
			switch {
			case gap > line.Size*1.5:
				b.WriteString("  ")
			case gap > line.Size*0.2:
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
		prevSpace = strings.HasSuffix(g.S, " ")
		prevEnd = g.X + g.W
		if prevEnd > line.X1 {
			line.X1 = prevEnd
		}
	}
	line.Text = strings.TrimSpace(b.String())
	return line, line.Text != ""
}

// dominantSize is the font size covering the most glyphs, in half-point buckets.
func dominantSize(gs []rpdf.Text) float64 {
	counts := map[float64]int{}
	best, bestN := 0.0, 0
	for _, g := range gs {
		if strings.TrimSpace(g.S) == "" {
			continue
		}
		k := math.Round(g.FontSize*2) / 2
		counts[k]++
		if counts[k] > bestN || (counts[k] == bestN && k > best) {
			best, bestN = k, counts[k]
		}
	}
	if bestN == 0 && len(gs) > 0 {
		return gs[0].FontSize
	}
	return best
}

// groupBlocks splits lines into blocks on large vertical gaps, font size changes and caption starts.
func groupBlocks(page int, lines []textLine) []textBlock {
	var (
		out []textBlock
		cur textBlock
	)
	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			size := math.Max(prev.Size, l.Size)
			gap := prev.Y - l.Y
			if gap > size*1.8 || gap < 0 || math.Abs(prev.Size-l.Size) > 1.0 || captionRe.MatchString(l.Text) {
				out = append(out, cur)
				cur = textBlock{}
			}
		}
		cur.Page = page
		cur.Lines = append(cur.Lines, l)
	}
	if len(cur.Lines) > 0 {
		out = append(out, cur)
	}
	return out
}

// text joins the lines of a block into a paragraph, undoing end-of-line hyphenation.
func (b textBlock) text() string {
	var sb strings.Builder
	for i, l := range b.Lines {
		t := strings.Join(strings.Fields(l.Text), " ")
		if i > 0 {
			prev := sb.String()
			if strings.HasSuffix(prev, "-") && startsLower(t) {
				sb.Reset()
				sb.WriteString(strings.TrimSuffix(prev, "-"))
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t)
	}
	return sb.String()
}

func startsLower(s string) bool {
	for _, r := range s {
		return r >= 'a' && r <= 'z'
	}
	return false
}

func (b textBlock) size() float64 {
	if len(b.Lines) == 0 {
		return 0
	}
	return b.Lines[0].Size
}

func (b textBlock) bbox() domain.BBox {
	if len(b.Lines) == 0 {
		return domain.BBox{}
	}
	box := domain.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, l := range b.Lines {
		box.X0 = math.Min(box.X0, l.X0)
		box.X1 = math.Max(box.X1, l.X1)
		box.Y0 = math.Min(box.Y0, l.Y-l.Size*0.25)
		box.Y1 = math.Max(box.Y1, l.Y+l.Size)
	}
	return box
}

// bodySize is the font size carrying most of the document's characters.
func bodySize(pages []pdfPage) float64 {
	counts := map[float64]int{}
	best, bestN := 0.0, 0
	for _, p := range pages {
		for _, b := range p.Blocks {
			for _, l := range b.Lines {
				k := math.Round(l.Size*2) / 2
				counts[k] += len(l.Text)
				if counts[k] > bestN {
					best, bestN = k, counts[k]
				}
			}
		}
	}
	return best
}
