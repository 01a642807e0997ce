// Package catalog records every candidate article seen by the downloader in a local SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

// Status is the download outcome of a catalogued article.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
	StatusExcluded   Status = "excluded"
)

// ErrNotFound is returned by Get for an unknown article.
var ErrNotFound = errors.New("catalog: article not found")

// Entry is one catalogued article.
type Entry struct {
	domain.Article
	Status    Status
	Error     string
	UpdatedAt time.Time
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Source string
	Status Status
}

// Catalog is the article catalog.
type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	source            TEXT NOT NULL,
	id                TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	published         TEXT NOT NULL DEFAULT '',
	doi               TEXT NOT NULL DEFAULT '',
	peer_reviewed_doi TEXT NOT NULL DEFAULT '',
	authors           TEXT NOT NULL DEFAULT '[]',
	license           TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	download_url      TEXT NOT NULL DEFAULT '',
	path              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (source, id)
);
CREATE INDEX IF NOT EXISTS idx_articles_status ON articles (status);
`

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Upsert inserts e or replaces the stored entry with the same source and id.
func (c *Catalog) Upsert(ctx context.Context, e Entry) error {
	if e.Source == "" || e.ID == "" {
		return fmt.Errorf("catalog: source and id are required")
	}
	authors, err := json.Marshal(nonNil(e.Authors))
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	var published string
	if !e.Published.IsZero() {
		published = e.Published.UTC().Format(time.RFC3339)
	}

	_, err = c.db.ExecContext(ctx, `
	INSERT INTO articles(source, id, title, published, doi, peer_reviewed_doi, authors, license,
		source_url, download_url, path, status, error, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, id) DO UPDATE SET
		title=excluded.title,
		published=excluded.published,
		doi=excluded.doi,
		peer_reviewed_doi=excluded.peer_reviewed_doi,
		authors=excluded.authors,
		license=excluded.license,
		source_url=excluded.source_url,
		download_url=excluded.download_url,
		path=excluded.path,
		status=excluded.status,
		error=excluded.error,
		updated_at=excluded.updated_at;`,
		e.Source, e.ID, e.Title, published, e.DOI, e.PeerReviewedDOI, string(authors), e.License,
		e.SourceURL, e.DownloadURL, e.Path, string(e.Status), e.Error, e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", e.Source, e.ID, err)
	}
	return nil
}

const selectColumns = `SELECT source, id, title, published, doi, peer_reviewed_doi, authors, license,
	source_url, download_url, path, status, error, updated_at FROM articles`

// Get returns the entry for source and id.
func (c *Catalog) Get(ctx context.Context, source, id string) (Entry, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+` WHERE source = ? AND id = ?`, source, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns matching entries ordered by source then id.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := selectColumns
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY source, id"

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of entries per status.
func (c *Catalog) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM articles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// ExportCSV writes every entry to path in catalog order.
func (c *Catalog) ExportCSV(ctx context.Context, path string) error {
	entries, err := c.List(ctx, Filter{})
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		var date string
		if !e.Published.IsZero() {
			date = e.Published.UTC().Format("2006-01-02")
		}
		rows = append(rows, []string{
			e.ID, e.Source, e.Title, date, e.DOI, e.PeerReviewedDOI, strings.Join(e.Authors, "; "),
			e.License, e.SourceURL, e.DownloadURL, e.Path, string(e.Status), e.Error,
		})
	}
	return tables.WriteAtomic(path, tables.ArticlesHeader, rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Entry, error) {
	var (
		e         Entry
		published string
		authors   string
		status    string
		updated   int64
	)
	err := s.Scan(&e.Source, &e.ID, &e.Title, &published, &e.DOI, &e.PeerReviewedDOI, &authors,
		&e.License, &e.SourceURL, &e.DownloadURL, &e.Path, &status, &e.Error, &updated)
	if err != nil {
		return Entry{}, err
	}
	if published != "" {
		if e.Published, err = time.Parse(time.RFC3339, published); err != nil {
			return Entry{}, fmt.Errorf("parse published for %s/%s: %w", e.Source, e.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(authors), &e.Authors); err != nil {
		return Entry{}, fmt.Errorf("decode authors for %s/%s: %w", e.Source, e.ID, err)
	}
	if len(e.Authors) == 0 {
		e.Authors = nil
	}
	e.Status = Status(status)
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
