// Package tables reads and writes the CSV artifacts exchanged between stages.
// Column names are fixed; tables are replaced atomically and rows keep the caller's order.
package tables

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// File names under the data directory.
const (
	ImageContextFile = "img-context.csv"
	ResponsesFile    = "responses.csv"
	PairsFile        = "eval-pairs.csv"
	AssignmentsFile  = "assignments.csv"
	ResultsFile      = "results.csv"
	UnblindedFile    = "unblinded.csv"
	ArticlesFile     = "articles.csv"
)

// WriteAtomic writes header and rows to a temp file next to path, syncs it and renames it over path.
func WriteAtomic(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	return nil
}

// Rows is a table read back with its column positions.
type Rows struct {
	Header  []string
	Records [][]string
	index   map[string]int
}

// Get returns the value of column in record i, or "" when the column is absent.
func (r *Rows) Get(i int, column string) string {
	pos, ok := r.index[column]
	if !ok || pos >= len(r.Records[i]) {
		return ""
	}
	return r.Records[i][pos]
}

// Len returns the number of records.
func (r *Rows) Len() int { return len(r.Records) }

// Read loads a table and checks that every required column is present.
// A missing file is returned as an fs.ErrNotExist error.
func Read(path string, required []string) (*Rows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f, path, required)
}

func parse(r io.Reader, name string, required []string) (*Rows, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty table", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", name, col)
		}
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", name, err)
	}
	return &Rows{Header: header, Records: records, index: index}, nil
}

func sameHeader(got, want []string) bool { return slices.Equal(got, want) }
