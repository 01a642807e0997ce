// Package process converts downloaded articles into structured documents:
// ordered text blocks, headings, captions, tables and images with stable ids.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

const stage = "process"

// Output file names inside an article directory.
const (
	DocumentFile = "document.json"
	MarkdownFile = "document.md"
	ImagesDir    = "images"
)

// Image sources for PDFs.
const (
	SourceEmbedded = "embedded"
	SourceRender   = "render"
)

// Options configures conversion.
type Options struct {
	ImageSource string
	RenderDPI   int
	MinImagePx  int
}

// Processor converts every document under an input directory.
type Processor struct {
	in      string
	out     string
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Processor reading from in and writing one directory per article under out.
func New(in, out string, opts Options, log zerolog.Logger, m *metrics.Metrics) *Processor {
	if opts.ImageSource == "" {
		opts.ImageSource = SourceEmbedded
	}
	if opts.RenderDPI <= 0 {
		opts.RenderDPI = 144
	}
	return &Processor{in: in, out: out, opts: opts, log: log, metrics: m, now: time.Now}
}

// source is one input document and its article id.
type source struct {
	Path string
	ID   string
	Ext  string
}

// Run converts each document whose output does not exist yet.
func (p *Processor) Run(ctx context.Context) (*domain.Report, error) {
	if st, err := os.Stat(p.in); err != nil || !st.IsDir() {
		return nil, domain.PreconditionError("process", fmt.Errorf("articles directory %s not found; run the download step first", p.in))
	}
	srcs, err := discover(p.in)
	if err != nil {
		return nil, domain.IOError("scan articles", err)
	}
	rep := &domain.Report{Stage: stage}
	if len(srcs) == 0 {
		p.log.Warn().Str("dir", p.in).Msg("No PDF or DOCX documents found")
		return rep, nil
	}
	if err := os.MkdirAll(p.out, 0o755); err != nil {
		return nil, domain.IOError("create processed dir", err)
	}

	bar := ui.NewProgress(len(srcs), "process")
	defer bar.Finish()
	for _, src := range srcs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		log := p.log.With().Str("article", src.ID).Logger()
		dir := filepath.Join(p.out, src.ID)
		if _, err := os.Stat(filepath.Join(dir, DocumentFile)); err == nil {
			rep.Skipped++
			p.metrics.Item(stage, metrics.OutcomeSkipped)
			log.Debug().Msg("Already processed")
			bar.Add(1)
			continue
		}

		start := time.Now()
		doc, err := p.convert(src, dir)
		if err != nil {
			rep.Fail(src.ID, err)
			p.metrics.Item(stage, metrics.OutcomeFailed)
			log.Error().Err(err).Str("path", src.Path).Msg("Conversion failed")
		} else {
			rep.Done++
			p.metrics.Item(stage, metrics.OutcomeDone)
			log.Info().
				Int("elements", len(doc.Elements)).
				Int("images", len(doc.Images())).
				Dur("took", time.Since(start)).
				Msg("Processed")
		}
		bar.Add(1)
	}
	return rep, nil
}

// discover lists PDF and DOCX files under dir in path order and assigns article ids.
// The id is the slug of the parent directory and file stem; a clash gets the extension appended.
func discover(dir string) ([]source, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".pdf", ".docx":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	used := make(map[string]bool, len(paths))
	out := make([]source, 0, len(paths))
	for _, path := range paths {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		parent := filepath.Base(filepath.Dir(path))
		if filepath.Clean(filepath.Dir(path)) == filepath.Clean(dir) {
			parent = ""
		}
		id := slugify(strings.TrimPrefix(parent+"-"+stem, "-"))
		if id == "" {
			id = "article"
		}
		base := id
		if used[id] {
			id = base + "-" + ext
		}
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[id] = true
		out = append(out, source{Path: path, ID: id, Ext: ext})
	}
	return out, nil
}

// convert builds the document in a temp directory and renames it into place,
// so an article directory only ever appears complete.
func (p *Processor) convert(src source, dir string) (*domain.Document, error) {
	tmp, err := os.MkdirTemp(p.out, ".tmp-"+src.ID+"-")
	if err != nil {
		return nil, domain.IOError("create temp dir", err)
	}
	defer os.RemoveAll(tmp)
	if err := os.MkdirAll(filepath.Join(tmp, ImagesDir), 0o755); err != nil {
		return nil, domain.IOError("create images dir", err)
	}

	var (
		doc    *domain.Document
		images []placedImage
	)
	switch src.Ext {
	case "pdf":
		doc, images, err = p.convertPDF(src)
	case "docx":
		doc, images, err = p.convertDOCX(src)
	default:
		err = domain.FormatError("convert", fmt.Errorf("unsupported format %q", src.Ext))
	}
	if err != nil {
		return nil, err
	}

	for _, img := range images {
		if err := os.WriteFile(filepath.Join(tmp, ImagesDir, filepath.Base(img.Info.Path)), img.Data, 0o644); err != nil {
			return nil, domain.IOError("write image", err)
		}
	}
	doc.Outline = buildOutline(doc.Elements)
	doc.ProcessedAt = p.now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, domain.ConversionError("encode document", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, DocumentFile), data, 0o644); err != nil {
		return nil, domain.IOError("write document", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, MarkdownFile), []byte(renderMarkdown(doc)), 0o644); err != nil {
		return nil, domain.IOError("write markdown", err)
	}

	// A directory left without document.json by an older run is incomplete.
	if err := os.RemoveAll(dir); err != nil {
		return nil, domain.IOError("clear stale output", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, domain.IOError("publish output", err)
	}
	return doc, nil
}

// placedImage is an image element and the bytes to write for it.
type placedImage struct {
	Info *domain.ImageInfo
	Data []byte
	Box  domain.BBox
}

func newImage(id string, ri rawImage) placedImage {
	info := &domain.ImageInfo{
		ID:     id,
		Path:   filepath.ToSlash(filepath.Join(ImagesDir, id+"."+ri.Ext)),
		Width:  ri.Width,
		Height: ri.Height,
		Format: ri.Ext,
	}
	return placedImage{Info: info, Data: ri.Data, Box: ri.Box}
}

// ReadDocument loads a processed document.
func ReadDocument(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &doc, nil
}

// ListDocuments returns the article ids under dir that have a document.json, sorted.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), DocumentFile)); err == nil {
			ids = append(ids, e.Name())
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	sort.Strings(ids)
	return ids, nil
}
