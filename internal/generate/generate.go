// Package generate asks a multimodal model to interpret every dataset image twice, with and without
// the document context, and persists each raw response before aggregating them.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/thywilljoshua/chart-context-study/internal/ai"
	"github.com/thywilljoshua/chart-context-study/internal/artifact"
	"github.com/thywilljoshua/chart-context-study/internal/blind"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/retry"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

const stage = "generate"

// Options configures prompting and retries.
type Options struct {
	BasePrompt     string
	SystemPrompt   string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	Secret         []byte
}

// Generator produces responses.csv, eval-pairs.csv and assignments.csv from img-context.csv.
type Generator struct {
	dataDir string
	store   artifact.Store
	model   ai.Interpreter
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Generator reading and writing tables in dataDir.
func New(dataDir string, store artifact.Store, model ai.Interpreter, opts Options, log zerolog.Logger, m *metrics.Metrics) *Generator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Generator{dataDir: dataDir, store: store, model: model, opts: opts, log: log, metrics: m, now: time.Now}
}

// Run generates the missing responses and rewrites the aggregate tables.
func (g *Generator) Run(ctx context.Context) (*domain.Report, error) {
	recs, err := tables.ReadImageContext(filepath.Join(g.dataDir, tables.ImageContextFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.PreconditionError("generate", fmt.Errorf("%s not found; run the construct step first", tables.ImageContextFile))
	}
	if err != nil {
		return nil, domain.FormatError("read dataset", err)
	}
	if len(g.opts.Secret) == 0 {
		return nil, domain.ConfigError("generate", errors.New("blinding secret is empty"))
	}

	rep := &domain.Report{Stage: stage}
	rows := make([]tables.ResponseRow, 0, len(recs))
	bar := ui.NewProgress(len(recs), "generate")
	defer bar.Finish()

	for _, rec := range recs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		row, fresh := g.row(ctx, rec)
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		switch {
		case !row.OK():
			rep.Fail(rec.ImageID, errors.New(row.Error))
			g.metrics.Item(stage, metrics.OutcomeFailed)
		case fresh:
			rep.Done++
			g.metrics.Item(stage, metrics.OutcomeDone)
		default:
			rep.Skipped++
			g.metrics.Item(stage, metrics.OutcomeSkipped)
		}
		rows = append(rows, row)
		bar.Add(1)
	}

	if err := g.writeTables(rows); err != nil {
		return rep, err
	}
	return rep, nil
}

// row produces both responses for rec. fresh reports whether any model call was made.
func (g *Generator) row(ctx context.Context, rec domain.ImageRecord) (tables.ResponseRow, bool) {
	log := g.log.With().Str("image", rec.ImageID).Logger()
	row := tables.ResponseRow{ImageID: rec.ImageID, ArticleID: rec.ArticleID, ImagePath: rec.ImagePath, Model: g.model.Model()}

	var (
		image []byte
		fresh bool
		texts = make(map[domain.Mode]string, len(domain.Modes))
	)
	for _, mode := range domain.Modes {
		resp, ok, err := g.load(ctx, ArtifactKey(rec.ImageID, mode))
		if err == nil && !ok {
			if image == nil {
				if image, err = os.ReadFile(filepath.FromSlash(rec.ImagePath)); err != nil {
					err = domain.IOError("read image", err)
				}
			}
			if err == nil {
				fresh = true
				resp, err = g.generate(ctx, rec, mode, image)
			}
		}
		if err != nil {
			log.Error().Err(err).Str("mode", string(mode)).Msg("Response failed")
			row.Status, row.Error = tables.StatusFailed, fmt.Sprintf("%s: %v", mode, err)
			return row, fresh
		}
		texts[mode] = resp.Text
		row.Model = resp.Model
	}
	row.Status = tables.StatusOK
	row.WithContext, row.WithoutContext = texts[domain.WithContext], texts[domain.WithoutContext]
	return row, fresh
}

// load returns the persisted response under key, if any. An existing artifact marks the call complete.
func (g *Generator) load(ctx context.Context, key string) (domain.Response, bool, error) {
	ok, err := g.store.Exists(ctx, key)
	if err != nil {
		return domain.Response{}, false, domain.IOError("check artifact", err)
	}
	if !ok {
		return domain.Response{}, false, nil
	}
	data, err := g.store.Get(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return domain.Response{}, false, nil
	}
	if err != nil {
		return domain.Response{}, false, domain.IOError("read artifact", err)
	}
	var r domain.Response
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Response{}, false, domain.FormatError("decode artifact "+key, err)
	}
	return r, true, nil
}

// generate calls the model with retries and persists the raw response before returning it.
func (g *Generator) generate(ctx context.Context, rec domain.ImageRecord, mode domain.Mode, image []byte) (domain.Response, error) {
	log := g.log.With().Str("image", rec.ImageID).Str("mode", string(mode)).Logger()
	req := ai.Request{
		SystemPrompt: g.opts.SystemPrompt,
		Prompt:       BuildPrompt(g.opts.BasePrompt, mode, rec.Context),
		Image:        image,
		MIMEType:     ai.MIMEType(rec.ImagePath),
	}
	provider := g.model.Provider()
	policy := retry.Policy{
		MaxAttempts:    g.opts.MaxAttempts,
		InitialBackoff: g.opts.InitialBackoff,
		MaxBackoff:     g.opts.MaxBackoff,
		Retryable:      ai.IsRetryable,
		Sleep:          g.sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			g.metrics.Retry(provider)
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Transient error, retrying")
		},
	}

	var res ai.Result
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		if g.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()
		}
		var err error
		res, err = g.model.Interpret(ctx, req)
		g.metrics.Attempt(provider, err)
		return err
	})
	if err != nil {
		return domain.Response{}, domain.APIError("interpret", err)
	}

	resp := domain.Response{
		ImageID:      rec.ImageID,
		Mode:         mode,
		Text:         res.Text,
		Model:        res.Model,
		Provider:     provider,
		ResponseID:   res.ResponseID,
		CreatedAt:    res.CreatedAt,
		GeneratedAt:  g.now().UTC(),
		Usage:        res.Usage,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Attempts:     attempts,
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return domain.Response{}, domain.FormatError("encode artifact", err)
	}
	key := ArtifactKey(rec.ImageID, mode)
	created, err := g.store.Put(ctx, key, data)
	if err != nil {
		return domain.Response{}, domain.IOError("persist artifact", err)
	}
	if !created {
		// Another run persisted it first; its copy is the one aggregated.
		prev, ok, err := g.load(ctx, key)
		if err == nil && ok {
			return prev, nil
		}
	}
	log.Info().Int("attempts", attempts).Int("tokens", res.Usage.TotalTokens).Msg("Response saved")
	return resp, nil
}

func (g *Generator) writeTables(rows []tables.ResponseRow) error {
	if err := tables.WriteResponses(filepath.Join(g.dataDir, tables.ResponsesFile), rows); err != nil {
		return domain.IOError("write responses", err)
	}

	var (
		pairs       []tables.Pair
		assignments []domain.Assignment
	)
	for _, r := range rows {
		if !r.OK() {
			continue
		}
		a := blind.Assign(g.opts.Secret, r.ImageID)
		textA, textB := blind.Texts(a, r.WithContext, r.WithoutContext)
		pairs = append(pairs, tables.Pair{ImageID: r.ImageID, ImagePath: r.ImagePath, TextA: textA, TextB: textB})
		assignments = append(assignments, a)
	}
	if err := tables.WritePairs(filepath.Join(g.dataDir, tables.PairsFile), pairs); err != nil {
		return domain.IOError("write pairs", err)
	}
	if err := tables.WriteAssignments(filepath.Join(g.dataDir, tables.AssignmentsFile), assignments); err != nil {
		return domain.IOError("write assignments", err)
	}
	g.log.Info().Int("rows", len(rows)).Int("pairs", len(pairs)).Msg("Response tables written")
	return nil
}
