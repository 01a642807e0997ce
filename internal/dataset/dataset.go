// Package dataset samples images from processed articles and extracts the text around them.
package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/process"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

const stage = "construct"

// Options configures sampling and context extraction.
type Options struct {
	Before       int
	After        int
	Seed         uint64
	PerArticle   int
	Mode         string
	ExcludeAfter []string
}

// Constructor builds img-context.csv from the processed articles.
type Constructor struct {
	processed string
	images    string
	out       string
	opts      Options
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// New returns a Constructor reading processed articles and writing the table to out.
// Selected images are copied into images.
func New(processed, images, out string, opts Options, log zerolog.Logger, m *metrics.Metrics) *Constructor {
	if opts.PerArticle < 1 {
		opts.PerArticle = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeWindow
	}
	return &Constructor{processed: processed, images: images, out: out, opts: opts, log: log, metrics: m}
}

// Run samples images, extracts their context and replaces the dataset table.
func (c *Constructor) Run(ctx context.Context) (*domain.Report, error) {
	ids, err := process.ListDocuments(c.processed)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.PreconditionError("construct", fmt.Errorf("processed directory %s not found; run the process step first", c.processed))
	}
	if err != nil {
		return nil, domain.IOError("list processed articles", err)
	}
	rep := &domain.Report{Stage: stage}
	if len(ids) == 0 {
		c.log.Warn().Str("dir", c.processed).Msg("No processed articles found")
	}

	var records []domain.ImageRecord
	seen := make(map[string]bool)
	for _, id := range ids {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		log := c.log.With().Str("article", id).Logger()
		recs, excluded, err := c.article(id)
		rep.Excluded += excluded
		if err != nil {
			rep.Fail(id, err)
			c.metrics.Item(stage, metrics.OutcomeFailed)
			log.Error().Err(err).Msg("Article skipped")
			continue
		}
		if len(recs) == 0 {
			log.Info().Int("excluded", excluded).Msg("No eligible images")
			continue
		}
		for _, r := range recs {
			if seen[r.ImageID] {
				continue
			}
			seen[r.ImageID] = true
			records = append(records, r)
			rep.Done++
			c.metrics.Item(stage, metrics.OutcomeDone)
			log.Debug().Str("image", r.ImageID).Int("before", len(r.ContextBefore)).Int("after", len(r.ContextAfter)).Msg("Selected")
		}
	}

	if err := tables.WriteImageContext(c.out, records); err != nil {
		return rep, domain.IOError("write dataset", err)
	}
	c.log.Info().Int("rows", len(records)).Str("path", c.out).Msg("Dataset written")
	return rep, nil
}

// article samples the images of one document. It returns the rows in reading order
// and the number of draws rejected for falling in an excluded section.
func (c *Constructor) article(id string) ([]domain.ImageRecord, int, error) {
	dir := filepath.Join(c.processed, id)
	doc, err := process.ReadDocument(filepath.Join(dir, process.DocumentFile))
	if err != nil {
		return nil, 0, domain.FormatError("read document", err)
	}

	picked, excluded := sample(doc, c.opts.PerArticle, c.opts.ExcludeAfter, rng(c.opts.Seed, id))
	blocks := contextBlocks(doc)

	out := make([]domain.ImageRecord, 0, len(picked))
	for _, e := range picked {
		var pre, post []string
		if c.opts.Mode == ModeSection {
			pre, post = section(blocks, doc.Outline, e.Index, len(doc.Elements))
		} else {
			pre, post = window(blocks, e.Index, c.opts.Before, c.opts.After)
		}

		src := filepath.Join(dir, filepath.FromSlash(e.Image.Path))
		dst := filepath.Join(c.images, e.Image.ID+filepath.Ext(src))
		if err := copyFile(src, dst); err != nil {
			return nil, excluded, domain.IOError("copy image "+e.Image.ID, err)
		}
		out = append(out, domain.ImageRecord{
			ImageID:         e.Image.ID,
			ArticleID:       id,
			ImagePath:       filepath.ToSlash(dst),
			SourceImagePath: filepath.ToSlash(src),
			Page:            e.Page,
			ContextBefore:   pre,
			ContextAfter:    post,
			Context:         joinContext(pre, post),
		})
	}
	return out, excluded, nil
}

// rng derives a per-article generator so adding or removing articles leaves the other draws unchanged.
func rng(seed uint64, articleID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(articleID))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

// sample draws up to n images without replacement. Draws that land after an excluded heading are
// discarded and redrawn until the candidates run out. The result is in reading order.
func sample(doc *domain.Document, n int, excludeAfter []string, r *rand.Rand) ([]domain.Element, int) {
	pool := doc.Images()
	off := excludedFrom(doc, excludeAfter)

	var (
		picked   []domain.Element
		excluded int
	)
	for len(picked) < n && len(pool) > 0 {
		i := r.IntN(len(pool))
		e := pool[i]
		pool = append(pool[:i], pool[i+1:]...)
		if off[e.Index] {
			excluded++
			continue
		}
		picked = append(picked, e)
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Index < picked[j].Index })
	return picked, excluded
}

// copyFile copies src to dst unless dst already holds the same bytes.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if cur, err := os.ReadFile(dst); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
