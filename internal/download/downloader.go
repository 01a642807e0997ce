package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/thywilljoshua/chart-context-study/internal/catalog"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

const stage = "download"

// Downloader fetches candidates from each source into the articles directory.
type Downloader struct {
	dir     string
	sources []Source
	catalog *catalog.Catalog
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New returns a Downloader writing under dir and recording outcomes in cat.
func New(dir string, sources []Source, cat *catalog.Catalog, log zerolog.Logger, m *metrics.Metrics) *Downloader {
	return &Downloader{dir: dir, sources: sources, catalog: cat, log: log, metrics: m}
}

// Run processes every source in order. Listing and per-item failures are reported, not returned.
func (d *Downloader) Run(ctx context.Context) (*domain.Report, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, domain.IOError("create articles dir", err)
	}
	rep := &domain.Report{Stage: stage}

	for _, src := range d.sources {
		stop := ui.Spin(fmt.Sprintf("listing %s", src.Name()))
		cands, err := src.Candidates(ctx)
		stop()
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if err != nil {
			d.log.Error().Err(err).Str("source", src.Name()).Msg("Listing failed")
			rep.Fail(src.Name(), err)
			d.metrics.Item(stage, metrics.OutcomeFailed)
			if len(cands) == 0 {
				continue
			}
		}
		d.log.Info().Str("source", src.Name()).Int("candidates", len(cands)).Msg("Listed candidates")

		bar := ui.NewProgress(len(cands), src.Name())
		for _, c := range cands {
			if ctx.Err() != nil {
				bar.Finish()
				return rep, ctx.Err()
			}
			d.handle(ctx, src, c, rep)
			bar.Add(1)
		}
		bar.Finish()
	}
	return rep, nil
}

func (d *Downloader) handle(ctx context.Context, src Source, c Candidate, rep *domain.Report) {
	log := d.log.With().Str("source", src.Name()).Str("article", c.Article.ID).Logger()
	entry := catalog.Entry{Article: c.Article}
	item := src.Name() + "/" + c.Article.ID

	switch {
	case c.Err != nil:
		entry.Status, entry.Error = catalog.StatusFailed, c.Err.Error()
		rep.Fail(item, c.Err)
		d.metrics.Item(stage, metrics.OutcomeFailed)
		log.Warn().Err(c.Err).Msg("Candidate lookup failed")

	case c.Excluded != "":
		entry.Status, entry.Error = catalog.StatusExcluded, c.Excluded
		rep.Excluded++
		log.Debug().Str("reason", c.Excluded).Msg("Excluded")

	default:
		rel := filepath.Join(filepath.FromSlash(c.Dir), c.FileName)
		dest := filepath.Join(d.dir, rel)
		entry.Path = rel
		created, err := d.fetch(ctx, src, c.Article.DownloadURL, dest)
		switch {
		case err != nil:
			entry.Status, entry.Error = catalog.StatusFailed, err.Error()
			rep.Fail(item, err)
			d.metrics.Item(stage, metrics.OutcomeFailed)
			log.Warn().Err(err).Str("url", c.Article.DownloadURL).Msg("Download failed")
		case !created:
			entry.Status = catalog.StatusSkipped
			rep.Skipped++
			d.metrics.Item(stage, metrics.OutcomeSkipped)
			log.Debug().Str("path", rel).Msg("Already downloaded")
		default:
			entry.Status = catalog.StatusDownloaded
			rep.Done++
			d.metrics.Item(stage, metrics.OutcomeDone)
			log.Info().Str("path", rel).Msg("Downloaded")
		}
	}

	if d.catalog == nil {
		return
	}
	if err := d.catalog.Upsert(ctx, entry); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Catalog update failed")
	}
}

// fetch downloads url to dest unless dest exists. The file only appears once its content is verified.
func (d *Downloader) fetch(ctx context.Context, src Source, url, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, domain.IOError("stat "+dest, err)
	}
	if url == "" {
		return false, domain.FormatError("download", fmt.Errorf("no download url"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, domain.IOError("create target dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".part-*")
	if err != nil {
		return false, domain.IOError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := src.DownloadTo(ctx, url, tmp); err != nil {
		tmp.Close()
		return false, domain.NetworkError("download "+url, err)
	}
	head := make([]byte, 8)
	n, _ := tmp.ReadAt(head, 0)
	want := supportedExt(filepath.Ext(dest))
	if got := sniff(head[:n]); got == "" || got != want {
		tmp.Close()
		return false, domain.FormatError("download "+url, fmt.Errorf("content is not a %s document", want))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, domain.IOError("sync download", err)
	}
	if err := tmp.Close(); err != nil {
		return false, domain.IOError("close download", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return false, domain.IOError("publish download", err)
	}
	return true, nil
}
