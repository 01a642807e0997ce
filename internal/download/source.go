// Package download fetches candidate articles from remote preprint repositories.
package download

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// Candidate is one article a source offers for download.
type Candidate struct {
	Article domain.Article
	// Dir is the target directory relative to the articles root.
	Dir      string
	FileName string
	// Excluded is the reason the candidate is catalogued but not downloaded.
	Excluded string
	// Err is a lookup failure for this candidate only.
	Err error
}

// Source lists and fetches articles from one repository.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
	DownloadTo(ctx context.Context, url string, f *os.File) error
}

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

// sniff reports the document format of head, or "" when it is neither PDF nor DOCX.
func sniff(head []byte) string {
	switch {
	case bytes.HasPrefix(head, pdfMagic):
		return "pdf"
	case bytes.HasPrefix(head, zipMagic):
		return "docx"
	}
	return ""
}

// supportedExt normalizes a file extension, returning "" for unsupported types.
func supportedExt(ext string) string {
	switch e := strings.ToLower(strings.TrimPrefix(ext, ".")); e {
	case "pdf", "docx":
		return e
	}
	return ""
}
