package process

import (
	"fmt"
	"path"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// renderMarkdown writes a Markdown rendition of doc with images referenced relative to the article directory.
func renderMarkdown(doc *domain.Document) string {
	var b strings.Builder
	for i, e := range doc.Elements {
		switch e.Kind {
		case domain.KindHeading:
			lvl := e.Level
			if lvl < 1 {
				lvl = 1
			}
			if lvl > 6 {
				lvl = 6
			}
			b.WriteString(strings.Repeat("#", lvl) + " " + stripHeadingMarks(e.Text))
		case domain.KindImage:
			if e.Image == nil {
				continue
			}
			fmt.Fprintf(&b, "![%s](%s)", escapeAlt(imageAlt(doc.Elements, i)), path.Join("images", path.Base(e.Image.Path)))
		case domain.KindCaption:
			b.WriteString("*" + strings.TrimSpace(e.Text) + "*")
		default:
			b.WriteString(strings.TrimSpace(e.Text))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// imageAlt uses the caption next to an image, or a generic label.
func imageAlt(els []domain.Element, i int) string {
	for _, j := range []int{i + 1, i - 1} {
		if j >= 0 && j < len(els) && els[j].Kind == domain.KindCaption && els[j].Page == els[i].Page {
			return els[j].Text
		}
	}
	return "Image"
}

func stripHeadingMarks(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, "#"))
}

func escapeAlt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
