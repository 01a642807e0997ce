package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Dataset.WindowBefore)
	assert.Equal(t, 3, cfg.Dataset.WindowAfter)
	assert.Equal(t, uint64(42), cfg.Dataset.Seed)
	assert.Equal(t, 7, cfg.Evaluate.ScaleMax)
	assert.Equal(t, []string{"accuracy", "clarity", "relevance", "completeness"}, cfg.Evaluate.Dimensions)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "study.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataset:
  window_before: 2
  window_after: 4
  context_mode: section
generate:
  provider: gemini
  model: gemini-2.5-pro
  initial_backoff: 500ms
download:
  osf_interval: 5s
evaluate:
  dimensions: [accuracy, clarity]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Paths.Root)
	assert.Equal(t, 2, cfg.Dataset.WindowBefore)
	assert.Equal(t, 4, cfg.Dataset.WindowAfter)
	assert.Equal(t, "section", cfg.Dataset.ContextMode)
	assert.Equal(t, "gemini", cfg.Generate.Provider)
	assert.Equal(t, 500*time.Millisecond, cfg.Generate.InitialBackoff)
	assert.Equal(t, []string{"accuracy", "clarity"}, cfg.Evaluate.Dimensions)
	assert.Equal(t, 5*time.Second, cfg.Download.OSFInterval)
	assert.Equal(t, 3*time.Second, cfg.Download.Interval, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Generate.MaxAttempts, "unset fields keep defaults")
	assert.Equal(t, filepath.Join(dir, "data", "img-context.csv"), cfg.DataFile("img-context.csv"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STUDY_ROOT", "/srv/study")
	t.Setenv("STUDY_SEED", "7")
	t.Setenv("STUDY_BLINDING_SECRET", "s3cret")
	t.Setenv("STUDY_GCS_BUCKET", "study-artifacts")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/study", cfg.Paths.Root)
	assert.Equal(t, uint64(7), cfg.Dataset.Seed)
	assert.Equal(t, "s3cret", cfg.Evaluate.Secret)
	assert.Equal(t, "gcs", cfg.Store.Backend)
	assert.Equal(t, "study-artifacts", cfg.Store.Bucket)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "or-key", cfg.Generate.APIKey())
	cfg.Generate.Provider = "gemini"
	assert.Equal(t, "gm-key", cfg.Generate.APIKey())
	cfg.Generate.Provider = "vertex"
	assert.Empty(t, cfg.Generate.APIKey())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"source":         func(c *Config) { c.Download.Sources = []string{"pubmed"} },
		"image source":   func(c *Config) { c.Process.ImageSource = "ocr" },
		"negative":       func(c *Config) { c.Dataset.WindowBefore = -1 },
		"empty window":   func(c *Config) { c.Dataset.WindowBefore, c.Dataset.WindowAfter = 0, 0 },
		"per article":    func(c *Config) { c.Dataset.ImagesPerArticle = 0 },
		"context mode":   func(c *Config) { c.Dataset.ContextMode = "page" },
		"provider":       func(c *Config) { c.Generate.Provider = "claude" },
		"attempts":       func(c *Config) { c.Generate.MaxAttempts = 0 },
		"scale":          func(c *Config) { c.Evaluate.ScaleMax = 1 },
		"dimensions":     func(c *Config) { c.Evaluate.Dimensions = nil },
		"store":          func(c *Config) { c.Store.Backend = "s3" },
		"bucket":         func(c *Config) { c.Store.Backend = "gcs" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"download tries": func(c *Config) { c.Download.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Root = "/data/study"
	assert.Equal(t, "/data/study/processed", cfg.ProcessedDir())
	cfg.Paths.Processed = "/mnt/processed"
	assert.Equal(t, "/mnt/processed", cfg.ProcessedDir())
}
