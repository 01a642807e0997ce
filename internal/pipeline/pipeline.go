// Package pipeline builds each study stage from the configuration and runs them in order.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/thywilljoshua/chart-context-study/internal/ai"
	"github.com/thywilljoshua/chart-context-study/internal/artifact"
	"github.com/thywilljoshua/chart-context-study/internal/blind"
	"github.com/thywilljoshua/chart-context-study/internal/catalog"
	"github.com/thywilljoshua/chart-context-study/internal/config"
	"github.com/thywilljoshua/chart-context-study/internal/dataset"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/download"
	"github.com/thywilljoshua/chart-context-study/internal/evaluate"
	"github.com/thywilljoshua/chart-context-study/internal/generate"
	"github.com/thywilljoshua/chart-context-study/internal/logging"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/process"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

// Step names one pipeline stage, or all of them.
type Step string

const (
	StepDownload  Step = "download"
	StepProcess   Step = "process"
	StepConstruct Step = "construct"
	StepGenerate  Step = "generate"
	StepEvaluate  Step = "evaluate"
	StepAll       Step = "all"
)

// Steps lists the stages in execution order.
var Steps = []Step{StepDownload, StepProcess, StepConstruct, StepGenerate, StepEvaluate}

const (
	catalogFile = "catalog.db"
	secretFile  = ".blinding-key"
)

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(s)))
	if step == StepAll {
		return step, nil
	}
	for _, known := range Steps {
		if step == known {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown step %q (want download, process, construct, generate, evaluate or all)", s)
}

// Expand returns the stages step stands for.
func Expand(step Step) []Step {
	if step == StepAll {
		return Steps
	}
	return []Step{step}
}

// Runner runs stages against one configuration.
type Runner struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New returns a Runner.
func New(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) *Runner {
	return &Runner{cfg: cfg, log: log, metrics: m}
}

// Run executes step and returns the report of every stage that ran.
// It stops at the first stage-level error; per-item failures only show up in the reports.
func (r *Runner) Run(ctx context.Context, step Step) ([]*domain.Report, error) {
	var reports []*domain.Report
	for _, s := range Expand(step) {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		ui.Banner(string(s))
		rep, err := r.stage(ctx, s)
		if rep != nil {
			reports = append(reports, rep)
			summarize(rep)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (r *Runner) stage(ctx context.Context, s Step) (*domain.Report, error) {
	switch s {
	case StepDownload:
		return r.Download(ctx)
	case StepProcess:
		return r.Process(ctx)
	case StepConstruct:
		return r.Construct(ctx)
	case StepGenerate:
		return r.Generate(ctx)
	case StepEvaluate:
		return nil, r.Evaluate(ctx)
	}
	return nil, fmt.Errorf("unknown step %q", s)
}

func summarize(rep *domain.Report) {
	if rep.Failed() == 0 {
		ui.Success("%s", rep)
		return
	}
	ui.Warning("%s", rep)
	for _, f := range rep.Failures.Items() {
		ui.Error("%s: %v", f.Item, f.Err)
	}
}

// Sources builds the configured download sources.
func (r *Runner) Sources() []download.Source {
	d := r.cfg.Download
	opts := download.ClientOptions{
		Interval:    d.Interval,
		Timeout:     d.Timeout,
		MaxAttempts: d.MaxAttempts,
		Metrics:     r.metrics,
	}
	var out []download.Source
	for _, name := range d.Sources {
		switch name {
		case "arxiv":
			out = append(out, download.NewArxivSource(opts, d.ArxivQuery, d.ArxivIDs, d.ArxivMax, d.ContactName, d.ContactEmail))
		case "osf":
			osf := opts
			osf.Interval = d.OSFInterval
			out = append(out, download.NewOSFSource(osf, d.OSFToken, d.OSFSubjects, d.OSFPageSize, d.OSFPages))
		}
	}
	return out
}

// Download fetches articles and exports the catalog to articles.csv.
func (r *Runner) Download(ctx context.Context) (*domain.Report, error) {
	cat, err := catalog.Open(r.cfg.DataFile(catalogFile))
	if err != nil {
		return nil, domain.IOError("open catalog", err)
	}
	defer cat.Close()

	log := logging.Stage(r.log, string(StepDownload))
	rep, err := download.New(r.cfg.ArticlesDir(), r.Sources(), cat, log, r.metrics).Run(ctx)
	if err != nil {
		return rep, err
	}
	if err := cat.ExportCSV(ctx, r.cfg.DataFile(tables.ArticlesFile)); err != nil {
		return rep, domain.IOError("export catalog", err)
	}
	return rep, nil
}

// Process converts downloaded articles.
func (r *Runner) Process(ctx context.Context) (*domain.Report, error) {
	p := r.cfg.Process
	opts := process.Options{ImageSource: p.ImageSource, RenderDPI: p.RenderDPI, MinImagePx: p.MinImagePx}
	log := logging.Stage(r.log, string(StepProcess))
	return process.New(r.cfg.ArticlesDir(), r.cfg.ProcessedDir(), opts, log, r.metrics).Run(ctx)
}

// Construct builds img-context.csv.
func (r *Runner) Construct(ctx context.Context) (*domain.Report, error) {
	d := r.cfg.Dataset
	opts := dataset.Options{
		Before:       d.WindowBefore,
		After:        d.WindowAfter,
		Seed:         d.Seed,
		PerArticle:   d.ImagesPerArticle,
		Mode:         d.ContextMode,
		ExcludeAfter: d.ExcludeAfter,
	}
	log := logging.Stage(r.log, string(StepConstruct))
	out := r.cfg.DataFile(tables.ImageContextFile)
	return dataset.New(r.cfg.ProcessedDir(), r.cfg.ImagesDir(), out, opts, log, r.metrics).Run(ctx)
}

// Generate produces both responses per image.
func (r *Runner) Generate(ctx context.Context) (*domain.Report, error) {
	g := r.cfg.Generate
	secret, err := r.Secret()
	if err != nil {
		return nil, err
	}
	var promptFile string
	if g.SystemPromptFile != "" {
		promptFile = r.cfg.Path(g.SystemPromptFile)
	}
	system, err := generate.LoadSystemPrompt(promptFile)
	if err != nil {
		return nil, domain.ConfigError("load system prompt", err)
	}
	store, closeStore, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	model, err := ai.New(ctx, ai.Options{
		Provider:        g.Provider,
		Model:           g.Model,
		BaseURL:         g.BaseURL,
		APIKey:          g.APIKey(),
		Project:         g.Project,
		Location:        g.Location,
		ReasoningEffort: g.ReasoningEffort,
	})
	if err != nil {
		return nil, domain.ConfigError("create model client", err)
	}

	opts := generate.Options{
		BasePrompt:     g.BasePrompt,
		SystemPrompt:   system,
		MaxAttempts:    g.MaxAttempts,
		InitialBackoff: g.InitialBackoff,
		MaxBackoff:     g.MaxBackoff,
		Timeout:        g.Timeout,
		Secret:         secret,
	}
	log := logging.Stage(r.log, string(StepGenerate)).With().
		Str("provider", model.Provider()).
		Str("model", model.Model()).
		Logger()
	return generate.New(r.cfg.DataDir(), store, model, opts, log, r.metrics).Run(ctx)
}

// Evaluate serves the rating form until ctx is cancelled.
func (r *Runner) Evaluate(ctx context.Context) error {
	e := r.cfg.Evaluate
	secret, err := r.Secret()
	if err != nil {
		return err
	}
	study, err := evaluate.OpenStudy(r.cfg.DataDir(), secret, e.Dimensions, e.ScaleMax)
	if err != nil {
		return err
	}
	defer study.Close()

	ln, err := net.Listen("tcp", e.Listen)
	if err != nil {
		return domain.NetworkError("listen", err)
	}
	log := logging.Stage(r.log, string(StepEvaluate))
	log.Info().Str("addr", ln.Addr().String()).Msg("Rating form ready")
	ui.Info("Rating form at http://%s (Ctrl+C to stop)", ln.Addr())
	return evaluate.NewServer(study, e.RaterID, log, r.metrics).Serve(ctx, ln)
}

// Unblind writes unblinded.csv.
func (r *Runner) Unblind() (int, error) {
	return evaluate.Unblind(r.cfg.DataDir(), r.cfg.Evaluate.Dimensions)
}

// Secret returns the blinding secret from the configuration, or the key file in the data directory.
func (r *Runner) Secret() ([]byte, error) {
	if s := r.cfg.Evaluate.Secret; s != "" {
		return []byte(s), nil
	}
	secret, err := blind.LoadOrCreateSecret(r.cfg.DataFile(secretFile))
	if err != nil {
		return nil, domain.ConfigError("blinding secret", err)
	}
	return secret, nil
}

// Store opens the configured artifact store. The returned func releases it.
func (r *Runner) Store(ctx context.Context) (artifact.Store, func(), error) {
	s := r.cfg.Store
	if s.Backend != "gcs" {
		return artifact.NewFSStore(r.cfg.ResponsesDir()), func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, domain.ConfigError("create storage client", err)
	}
	return artifact.NewGCSStore(client, s.Bucket, s.Prefix), func() { client.Close() }, nil
}
