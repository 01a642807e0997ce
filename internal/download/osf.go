package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// OSFAPI is the OSF preprints endpoint.
const OSFAPI = "https://api.osf.io/v2/preprints"

// OSFDir is the OSF target directory under the articles root.
const OSFDir = "osf_downloads"

// Default OSF pacing between API calls.
const osfInterval = time.Second

// Licence ids of the CC-BY 4.0 family on OSF. Only the plain attribution licence is downloaded.
const ccBy4 = "563c1cf88c5e4a3877f9e96a"

var ccBy4Family = map[string]string{
	ccBy4:                      "CC-By Attribution 4.0 International",
	"60bf983b58510b0009a5a9a4": "CC-BY Attribution-No Derivatives 4.0 International",
	"60bf992258510b0009a5a9a6": "CC-BY Attribution-NonCommercial 4.0 International",
	"60bf99e058510b0009a5a9a9": "CC-BY Attribution-NonCommercial-ShareAlike 4.0 International",
}

// OSFSource lists CC-BY preprints for a set of subjects.
type OSFSource struct {
	*Client
	BaseURL  string
	Subjects []string
	PageSize int
	Pages    int
}

// NewOSFSource builds an OSF source. An empty token sends unauthenticated requests.
// A zero opts.Interval paces calls osfInterval apart.
func NewOSFSource(opts ClientOptions, token string, subjects []string, pageSize, pages int) *OSFSource {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	opts.Name = "osf"
	opts.Header = h
	if opts.Interval <= 0 {
		opts.Interval = osfInterval
	}
	return &OSFSource{
		Client:   NewClient(opts),
		BaseURL:  OSFAPI,
		Subjects: subjects,
		PageSize: pageSize,
		Pages:    pages,
	}
}

func (s *OSFSource) Name() string { return "osf" }

type osfLink struct {
	Related struct {
		Href string `json:"href"`
	} `json:"related"`
}

type osfPreprint struct {
	ID         string `json:"id"`
	Attributes struct {
		Title         string  `json:"title"`
		DatePublished string  `json:"date_published"`
		DOI           *string `json:"doi"`
	} `json:"attributes"`
	Relationships struct {
		License *struct {
			Data *struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"license"`
		Contributors struct {
			Links osfLink `json:"links"`
		} `json:"contributors"`
		PrimaryFile struct {
			Links osfLink `json:"links"`
		} `json:"primary_file"`
	} `json:"relationships"`
	Links struct {
		HTML        string `json:"html"`
		PreprintDOI string `json:"preprint_doi"`
	} `json:"links"`
}

type osfPage struct {
	Data  []osfPreprint `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type osfContributors struct {
	Data []struct {
		Embeds struct {
			Users struct {
				Data struct {
					Attributes struct {
						FullName string `json:"full_name"`
					} `json:"attributes"`
				} `json:"data"`
			} `json:"users"`
		} `json:"embeds"`
	} `json:"data"`
}

type osfVersions struct {
	Data []struct {
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
		Links struct {
			Download string `json:"download"`
		} `json:"links"`
	} `json:"data"`
}

// Candidates walks the preprint listing of every subject. A subject whose listing fails is
// reported in the joined error and the walk moves on to the next one.
func (s *OSFSource) Candidates(ctx context.Context) ([]Candidate, error) {
	var (
		out  []Candidate
		errs []error
	)
	seen := make(map[string]bool)
	for _, subject := range s.Subjects {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		preprints, err := s.listSubject(ctx, subject)
		if err != nil {
			errs = append(errs, domain.NetworkError("osf list "+subject, err))
			continue
		}
		dir := path.Join(OSFDir, subjectDir(subject))
		for _, p := range preprints {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, s.candidate(ctx, p, dir))
		}
	}
	return out, errors.Join(errs...)
}

func (s *OSFSource) listSubject(ctx context.Context, subject string) ([]osfPreprint, error) {
	q := url.Values{}
	q.Set("filter[subjects]", subject)
	q.Set("page[size]", strconv.Itoa(s.PageSize))
	next := s.BaseURL + "?" + q.Encode()

	var out []osfPreprint
	for page := 0; next != "" && page < s.Pages; page++ {
		var body osfPage
		if err := s.GetJSON(ctx, next, &body); err != nil {
			return nil, err
		}
		for _, p := range body.Data {
			if _, ok := ccBy4Family[licenseID(p)]; ok {
				out = append(out, p)
			}
		}
		next = body.Links.Next
	}
	return out, nil
}

func licenseID(p osfPreprint) string {
	if p.Relationships.License == nil || p.Relationships.License.Data == nil {
		return ""
	}
	return p.Relationships.License.Data.ID
}

func (s *OSFSource) candidate(ctx context.Context, p osfPreprint, dir string) Candidate {
	a := domain.Article{
		ID:              p.ID,
		Source:          "osf",
		Title:           strings.TrimSpace(p.Attributes.Title),
		PeerReviewedDOI: p.Links.PreprintDOI,
		License:         ccBy4Family[licenseID(p)],
		SourceURL:       p.Links.HTML,
		Published:       parseOSFTime(p.Attributes.DatePublished),
	}
	if p.Attributes.DOI != nil {
		a.DOI = *p.Attributes.DOI
	}
	c := Candidate{Article: a, Dir: dir}

	authors, err := s.contributors(ctx, p.Relationships.Contributors.Links.Related.Href)
	if err != nil {
		c.Err = domain.NetworkError("osf contributors", err)
		return c
	}
	c.Article.Authors = authors

	dl, name, err := s.primaryFile(ctx, p.Relationships.PrimaryFile.Links.Related.Href)
	if err != nil {
		c.Err = domain.NetworkError("osf primary file", err)
		return c
	}
	c.Article.DownloadURL = dl

	ext := "pdf"
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = strings.ToLower(name[i+1:])
	}
	c.FileName = osfFileName(a.Title, ext)

	switch {
	case licenseID(p) != ccBy4:
		c.Excluded = "licence " + a.License
	case dl == "":
		c.Excluded = "no downloadable file"
	case supportedExt(ext) == "":
		c.Excluded = "unsupported file type ." + ext
	}
	return c
}

func (s *OSFSource) contributors(ctx context.Context, href string) ([]string, error) {
	if href == "" {
		return nil, nil
	}
	var body osfContributors
	if err := s.GetJSON(ctx, href, &body); err != nil {
		return nil, err
	}
	var out []string
	for _, d := range body.Data {
		if n := d.Embeds.Users.Data.Attributes.FullName; n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// primaryFile returns the download URL and name of the first file version that has one.
func (s *OSFSource) primaryFile(ctx context.Context, href string) (string, string, error) {
	if href == "" {
		return "", "", nil
	}
	var body osfVersions
	if err := s.GetJSON(ctx, strings.TrimSuffix(href, "/")+"/versions/", &body); err != nil {
		return "", "", err
	}
	for _, v := range body.Data {
		if v.Links.Download != "" {
			return v.Links.Download, v.Attributes.Name, nil
		}
	}
	return "", "", nil
}

// subjectDir maps "Social and Behavioral Sciences" to "social_articles".
func subjectDir(subject string) string {
	first := strings.Fields(subject)
	if len(first) == 0 {
		return "unknown_articles"
	}
	return strings.ToLower(first[0]) + "_articles"
}

var fileNameReplacer = strings.NewReplacer("/", "_", `\`, "_", ":", "_", " ", "_")

// osfFileName builds the local file name from the first 20 characters of the sanitized title.
func osfFileName(title, ext string) string {
	base := []rune(fileNameReplacer.Replace(title))
	if len(base) > 20 {
		base = base[:20]
	}
	if len(base) == 0 {
		base = []rune("untitled")
	}
	return fmt.Sprintf("%s.%s", string(base), ext)
}

func parseOSFTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
