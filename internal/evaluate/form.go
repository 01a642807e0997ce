package evaluate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

var questions = map[string]string{
	"accuracy":     "How accurate is the description?",
	"clarity":      "How clear and understandable is the text?",
	"relevance":    "How relevant is the content to the image?",
	"completeness": "How complete is the description?",
}

func question(dim string) string {
	if q, ok := questions[dim]; ok {
		return q
	}
	return fmt.Sprintf("How would you rate its %s?", dim)
}

func label(dim string) string {
	if dim == "" {
		return dim
	}
	return strings.ToUpper(dim[:1]) + dim[1:]
}

// ratings is a parsed submission. Scores hold 0 for fields that were missing or invalid.
type ratings struct {
	ScoresA    map[string]int
	ScoresB    map[string]int
	Preference domain.Preference
	Comments   string
}

// parseRatings reads a submitted form and lists every problem that prevents saving it.
func parseRatings(form url.Values, dims []string, scaleMax int) (ratings, []string) {
	r := ratings{
		ScoresA:  make(map[string]int, len(dims)),
		ScoresB:  make(map[string]int, len(dims)),
		Comments: strings.TrimSpace(form.Get("comments")),
	}
	var problems []string
	for _, side := range []struct {
		prefix string
		name   string
		scores map[string]int
	}{{"a_", "Text A", r.ScoresA}, {"b_", "Text B", r.ScoresB}} {
		for _, d := range dims {
			raw := strings.TrimSpace(form.Get(side.prefix + d))
			if raw == "" {
				problems = append(problems, fmt.Sprintf("%s: rate %s.", side.name, strings.ToLower(label(d))))
				continue
			}
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > scaleMax {
				problems = append(problems, fmt.Sprintf("%s: %s must be between 1 and %d.", side.name, strings.ToLower(label(d)), scaleMax))
				continue
			}
			side.scores[d] = v
		}
	}
	switch p := domain.Preference(form.Get("preference")); p {
	case domain.PreferA, domain.PreferB, domain.PreferEqual:
		r.Preference = p
	case "":
		problems = append(problems, "Choose which text you prefer overall.")
	default:
		problems = append(problems, "Unknown preference.")
	}
	return r, problems
}
