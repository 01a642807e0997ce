package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/chart-context-study/internal/artifact"
	"github.com/thywilljoshua/chart-context-study/internal/config"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

func TestMain(m *testing.M) {
	ui.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.Root = t.TempDir()
	return cfg
}

func TestParseStep(t *testing.T) {
	for _, s := range []string{"download", "process", "construct", "generate", "evaluate", "all", " Generate "} {
		_, err := ParseStep(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseStep("analyze")
	assert.Error(t, err)

	assert.Equal(t, Steps, Expand(StepAll))
	assert.Equal(t, []Step{StepConstruct}, Expand(StepConstruct))
	assert.Equal(t, StepEvaluate, Steps[len(Steps)-1])
}

func TestSecret(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, zerolog.Nop(), nil)

	first, err := r.Secret()
	require.NoError(t, err)
	assert.Len(t, first, 32)
	again, err := r.Secret()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	st, err := os.Stat(cfg.DataFile(secretFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	cfg.Evaluate.Secret = "from-env"
	s, err := r.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), s)
}

func TestStoreDefaultsToFilesystem(t *testing.T) {
	cfg := testConfig(t)
	store, release, err := New(cfg, zerolog.Nop(), nil).Store(context.Background())
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &artifact.FSStore{}, store)
}

func TestSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Download.Sources = []string{"osf", "arxiv"}
	srcs := New(cfg, zerolog.Nop(), nil).Sources()
	require.Len(t, srcs, 2)
	assert.Equal(t, "osf", srcs[0].Name())
	assert.Equal(t, "arxiv", srcs[1].Name())
}

func TestMissingInputIsPrecondition(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, zerolog.Nop(), nil)

	for _, step := range []Step{StepProcess, StepConstruct, StepGenerate, StepEvaluate} {
		cfg.Generate.OpenAIKey = "k"
		_, err := r.Run(context.Background(), step)
		assert.True(t, domain.IsPrecondition(err), "%s: %v", step, err)
	}
	_, err := r.Unblind()
	assert.True(t, domain.IsPrecondition(err))
}

func TestRunStopsAtFirstStageError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Download.Sources = nil
	r := New(cfg, zerolog.Nop(), nil)

	reports, err := r.Run(context.Background(), StepAll)
	assert.True(t, domain.IsPrecondition(err), "%v", err)
	require.Len(t, reports, 2)
	assert.Equal(t, "download", reports[0].Stage)
	assert.Equal(t, "process", reports[1].Stage)
	_, err = os.Stat(cfg.DataFile(tables.ArticlesFile))
	assert.NoError(t, err, "catalog exported")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err = r.Run(ctx, StepAll)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
}

func TestGenerateStage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"id":"resp-%d","created":1700000000,"model":"o4-mini",
			"choices":[{"message":{"content":"interpretation %d"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`, n, n)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Generate.BaseURL = srv.URL
	cfg.Generate.OpenAIKey = "sk-test"
	cfg.Generate.InitialBackoff = time.Millisecond

	img := filepath.Join(cfg.ImagesDir(), "art-p1-01.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(img), 0o755))
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0o644))
	require.NoError(t, tables.WriteImageContext(cfg.DataFile(tables.ImageContextFile), []domain.ImageRecord{{
		ImageID:       "art-p1-01",
		ArticleID:     "art",
		ImagePath:     filepath.ToSlash(img),
		Page:          1,
		ContextBefore: []string{"Results are shown below."},
		Context:       "Results are shown below.",
	}}))

	m := metrics.New()
	r := New(cfg, zerolog.Nop(), m)
	reports, err := r.Run(context.Background(), StepGenerate)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Done)
	assert.Equal(t, int32(2), calls.Load())

	for _, mode := range domain.Modes {
		_, err := os.Stat(filepath.Join(cfg.ResponsesDir(), "art-p1-01", string(mode)+".json"))
		assert.NoError(t, err, mode)
	}
	rows, err := tables.ReadResponses(cfg.DataFile(tables.ResponsesFile))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].OK())

	pairs, err := tables.ReadPairs(cfg.DataFile(tables.PairsFile))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.ElementsMatch(t, []string{rows[0].WithContext, rows[0].WithoutContext}, []string{pairs[0].TextA, pairs[0].TextB})

	reports, err = r.Run(context.Background(), StepGenerate)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Skipped)
	assert.Equal(t, int32(2), calls.Load(), "persisted responses are reused")
}
