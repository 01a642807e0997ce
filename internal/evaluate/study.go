// Package evaluate serves the blinded rating form and maps ratings back to generation modes.
package evaluate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/thywilljoshua/chart-context-study/internal/blind"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

// ErrUnknownImage is returned for a submission about an image not in the study.
var ErrUnknownImage = errors.New("unknown image")

// Study is the set of blinded pairs shown to raters and the ratings collected so far.
type Study struct {
	mu       sync.Mutex
	items    []tables.Pair
	byID     map[string]tables.Pair
	rated    map[string]map[string]bool
	results  *tables.ResultsWriter
	dims     []string
	scaleMax int
}

// OpenStudy loads eval-pairs.csv from dataDir in secret-keyed order and resumes from results.csv.
func OpenStudy(dataDir string, secret []byte, dims []string, scaleMax int) (*Study, error) {
	pairs, err := tables.ReadPairs(filepath.Join(dataDir, tables.PairsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.PreconditionError("evaluate", fmt.Errorf("%s not found; run the generate step first", tables.PairsFile))
	}
	if err != nil {
		return nil, domain.FormatError("read pairs", err)
	}

	s := &Study{
		byID:     make(map[string]tables.Pair, len(pairs)),
		rated:    make(map[string]map[string]bool),
		dims:     dims,
		scaleMax: scaleMax,
	}
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, dup := s.byID[p.ImageID]; dup {
			continue
		}
		s.byID[p.ImageID] = p
		ids = append(ids, p.ImageID)
	}
	for _, id := range blind.Order(secret, ids) {
		s.items = append(s.items, s.byID[id])
	}

	path := filepath.Join(dataDir, tables.ResultsFile)
	prev, err := tables.ReadResults(path, dims)
	if err != nil {
		return nil, domain.FormatError("read results", err)
	}
	for _, e := range prev {
		s.mark(e.RaterID, e.ImageID)
	}
	if s.results, err = tables.OpenResults(path, dims); err != nil {
		return nil, domain.IOError("open results", err)
	}
	return s, nil
}

func (s *Study) mark(rater, imageID string) {
	if s.rated[rater] == nil {
		s.rated[rater] = make(map[string]bool)
	}
	s.rated[rater][imageID] = true
}

// Progress is a rater's position in the study.
type Progress struct {
	Done  int
	Total int
}

// Next returns the first item the rater has not rated yet. ok is false when every item is rated.
func (s *Study) Next(rater string) (item tables.Pair, p Progress, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = Progress{Total: len(s.items)}
	for _, it := range s.items {
		switch {
		case s.rated[rater][it.ImageID]:
			p.Done++
		case !ok:
			item, ok = it, true
		}
	}
	return item, p, ok
}

// Item looks up a study item by image id.
func (s *Study) Item(imageID string) (tables.Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[imageID]
	return p, ok
}

// Submit appends a rating. A second rating of the same image by the same rater is ignored
// and reported with recorded=false.
func (s *Study) Submit(e domain.EvaluationEntry) (recorded bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[e.ImageID]; !ok {
		return false, ErrUnknownImage
	}
	if s.rated[e.RaterID][e.ImageID] {
		return false, nil
	}
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = time.Now()
	}
	if err := s.results.Append(e); err != nil {
		return false, domain.IOError("append result", err)
	}
	s.mark(e.RaterID, e.ImageID)
	return true, nil
}

// Close closes the results file.
func (s *Study) Close() error { return s.results.Close() }
