package process

import "github.com/thywilljoshua/chart-context-study/internal/domain"

// buildOutline turns the heading elements of a document into a section tree.
// A section runs from its heading to the next heading of the same or a shallower level.
func buildOutline(elements []domain.Element) []domain.Section {
	var flat []domain.Section
	for _, e := range elements {
		if e.Kind != domain.KindHeading {
			continue
		}
		lvl := e.Level
		if lvl < 1 {
			lvl = 1
		}
		flat = append(flat, domain.Section{Title: e.Text, Level: lvl, Start: e.Index, End: len(elements)})
	}
	for i := range flat {
		for j := i + 1; j < len(flat); j++ {
			if flat[j].Level <= flat[i].Level {
				flat[i].End = flat[j].Start
				break
			}
		}
	}
	return attachChildren(flat)
}

// attachChildren nests each section under the closest preceding section with a lower level that contains it.
func attachChildren(flat []domain.Section) []domain.Section {
	var build func(lo, hi int) []domain.Section
	// build returns the sections of flat[lo:hi] whose parent lies outside that range.
	build = func(lo, hi int) []domain.Section {
		var out []domain.Section
		for i := lo; i < hi; {
			s := flat[i]
			j := i + 1
			for j < hi && flat[j].Start < s.End && flat[j].Level > s.Level {
				j++
			}
			s.Children = build(i+1, j)
			out = append(out, s)
			i = j
		}
		return out
	}
	return build(0, len(flat))
}
