package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed/atom"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// ArxivAPI is the arXiv export query endpoint.
const ArxivAPI = "http://export.arxiv.org/api/query"

// ArxivDir is the arXiv target directory under the articles root.
const ArxivDir = "arxiv_downloads"

// ArxivSource lists the most recent arXiv submissions for a query, or an explicit id list.
type ArxivSource struct {
	*Client
	BaseURL    string
	Query      string
	IDs        []string
	MaxResults int
}

// NewArxivSource builds an arXiv source. The User-Agent identifies the requester as the API asks.
func NewArxivSource(opts ClientOptions, query string, ids []string, max int, contactName, contactEmail string) *ArxivSource {
	h := http.Header{}
	h.Set("User-Agent", fmt.Sprintf("%s <%s>", contactName, contactEmail))
	opts.Name = "arxiv"
	opts.Header = h
	return &ArxivSource{
		Client:     NewClient(opts),
		BaseURL:    ArxivAPI,
		Query:      query,
		IDs:        ids,
		MaxResults: max,
	}
}

func (s *ArxivSource) Name() string { return "arxiv" }

func (s *ArxivSource) queryURL() string {
	q := url.Values{}
	if len(s.IDs) > 0 {
		q.Set("id_list", strings.Join(s.IDs, ","))
	} else {
		query := s.Query
		if query == "" {
			query = "all"
		}
		q.Set("search_query", query)
		q.Set("sortBy", "submittedDate")
		q.Set("sortOrder", "descending")
	}
	q.Set("start", "0")
	max := s.MaxResults
	if len(s.IDs) > max {
		max = len(s.IDs)
	}
	q.Set("max_results", strconv.Itoa(max))
	return s.BaseURL + "?" + q.Encode()
}

// Candidates fetches and parses the Atom feed.
func (s *ArxivSource) Candidates(ctx context.Context) ([]Candidate, error) {
	body, err := s.GetBytes(ctx, s.queryURL())
	if err != nil {
		return nil, domain.NetworkError("arxiv query", err)
	}
	// The Atom parser keeps link relations and titles, which locate the PDF link.
	parser := &atom.Parser{}
	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, domain.FormatError("arxiv feed", err)
	}

	out := make([]Candidate, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		out = append(out, arxivCandidate(entry))
	}
	return out, nil
}

func arxivCandidate(item *atom.Entry) Candidate {
	absURL := item.ID
	id := arxivID(absURL)
	a := domain.Article{
		ID:          id,
		Source:      "arxiv",
		Title:       strings.Join(strings.Fields(item.Title), " "),
		SourceURL:   absURL,
		DownloadURL: arxivPDFURL(item, absURL),
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			a.Authors = append(a.Authors, p.Name)
		}
	}
	if item.PublishedParsed != nil {
		a.Published = *item.PublishedParsed
	}
	if exts, ok := item.Extensions["arxiv"]; ok {
		if dois := exts["doi"]; len(dois) > 0 {
			a.DOI = dois[0].Value
		}
	}

	c := Candidate{Article: a, Dir: ArxivDir, FileName: id + ".pdf"}
	if id == "" {
		c.Err = domain.FormatError("arxiv entry", fmt.Errorf("entry without id: %q", item.Title))
	}
	return c
}

// arxivID extracts the identifier from an abs URL; old-style ids keep their archive as a prefix.
func arxivID(absURL string) string {
	i := strings.Index(absURL, "/abs/")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(strings.Trim(absURL[i+len("/abs/"):], "/"), "/", "_")
}

func arxivPDFURL(item *atom.Entry, absURL string) string {
	for _, l := range item.Links {
		if l != nil && (l.Title == "pdf" || l.Type == "application/pdf") {
			return l.Href
		}
	}
	if absURL == "" {
		return ""
	}
	return strings.Replace(absURL, "/abs/", "/pdf/", 1) + ".pdf"
}
