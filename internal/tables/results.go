package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// ResultsHeader returns the column set of results.csv for dims.
func ResultsHeader(dims []string) []string {
	h := []string{"session_id", "rater_id", "image_id"}
	for _, d := range dims {
		h = append(h, "a_"+d)
	}
	for _, d := range dims {
		h = append(h, "b_"+d)
	}
	return append(h, "preference", "comments", "submitted_at")
}

// ResultsWriter appends rating rows to results.csv, syncing after each row.
type ResultsWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	dims []string
}

// OpenResults opens path for appending, writing the header when the file is new or empty.
// An existing file must carry the same header.
func OpenResults(path string, dims []string) (*ResultsWriter, error) {
	header := ResultsHeader(dims)
	if existing, err := Read(path, nil); err == nil {
		if !sameHeader(existing.Header, header) {
			return nil, fmt.Errorf("%s: header does not match configured dimensions", path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) && !isEmpty(path) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	rw := &ResultsWriter{f: f, w: csv.NewWriter(f), dims: dims}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := rw.writeSync(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return rw, nil
}

func isEmpty(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Size() == 0
}

// Append writes one entry and syncs the file.
func (rw *ResultsWriter) Append(e domain.EvaluationEntry) error {
	row := []string{e.SessionID, e.RaterID, e.ImageID}
	for _, d := range rw.dims {
		row = append(row, strconv.Itoa(e.ScoresA[d]))
	}
	for _, d := range rw.dims {
		row = append(row, strconv.Itoa(e.ScoresB[d]))
	}
	row = append(row, string(e.Preference), e.Comments, e.SubmittedAt.UTC().Format(time.RFC3339))

	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.writeSync(row)
}

func (rw *ResultsWriter) writeSync(row []string) error {
	if err := rw.w.Write(row); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	rw.w.Flush()
	if err := rw.w.Error(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	if err := rw.f.Sync(); err != nil {
		return fmt.Errorf("sync result: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (rw *ResultsWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.f.Close()
}

// ReadResults loads results.csv. A missing file yields no entries.
func ReadResults(path string, dims []string) ([]domain.EvaluationEntry, error) {
	t, err := Read(path, ResultsHeader(dims))
	if errors.Is(err, fs.ErrNotExist) || (err != nil && isEmpty(path)) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.EvaluationEntry, 0, t.Len())
	for i := range t.Records {
		e := domain.EvaluationEntry{
			SessionID:  t.Get(i, "session_id"),
			RaterID:    t.Get(i, "rater_id"),
			ImageID:    t.Get(i, "image_id"),
			ScoresA:    make(map[string]int, len(dims)),
			ScoresB:    make(map[string]int, len(dims)),
			Preference: domain.Preference(t.Get(i, "preference")),
			Comments:   t.Get(i, "comments"),
		}
		for _, d := range dims {
			a, err := strconv.Atoi(t.Get(i, "a_"+d))
			if err != nil {
				return nil, fmt.Errorf("%s row %d: bad a_%s: %w", path, i+2, d, err)
			}
			b, err := strconv.Atoi(t.Get(i, "b_"+d))
			if err != nil {
				return nil, fmt.Errorf("%s row %d: bad b_%s: %w", path, i+2, d, err)
			}
			e.ScoresA[d], e.ScoresB[d] = a, b
		}
		if ts := t.Get(i, "submitted_at"); ts != "" {
			if e.SubmittedAt, err = time.Parse(time.RFC3339, ts); err != nil {
				return nil, fmt.Errorf("%s row %d: bad submitted_at: %w", path, i+2, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// UnblindedHeader returns the column set of unblinded.csv for dims.
func UnblindedHeader(dims []string) []string {
	h := []string{"rater_id", "image_id"}
	for _, d := range dims {
		h = append(h, string(domain.WithContext)+"_"+d)
	}
	for _, d := range dims {
		h = append(h, string(domain.WithoutContext)+"_"+d)
	}
	return append(h, "preference", "preference_actual", "comments")
}

// UnblindedRow is one rating mapped back to generation modes.
type UnblindedRow struct {
	RaterID          string
	ImageID          string
	WithContext      map[string]int
	WithoutContext   map[string]int
	Preference       domain.Preference
	PreferenceActual string
	Comments         string
}

// WriteUnblinded replaces unblinded.csv.
func WriteUnblinded(path string, dims []string, rows []UnblindedRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := []string{r.RaterID, r.ImageID}
		for _, d := range dims {
			rec = append(rec, strconv.Itoa(r.WithContext[d]))
		}
		for _, d := range dims {
			rec = append(rec, strconv.Itoa(r.WithoutContext[d]))
		}
		rec = append(rec, string(r.Preference), r.PreferenceActual, r.Comments)
		out = append(out, rec)
	}
	return WriteAtomic(path, UnblindedHeader(dims), out)
}
