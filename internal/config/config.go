// Package config loads the single configuration object shared by every stage.
// Values come from defaults, an optional YAML file, a .env file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the study pipeline.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Download DownloadConfig `yaml:"download"`
	Process  ProcessConfig  `yaml:"process"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Generate GenerateConfig `yaml:"generate"`
	Evaluate EvaluateConfig `yaml:"evaluate"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PathsConfig is the filesystem layout shared between stages.
// Relative paths are resolved against Root.
type PathsConfig struct {
	Root      string `yaml:"root"`
	Articles  string `yaml:"articles"`
	Processed string `yaml:"processed"`
	Images    string `yaml:"images"`
	Data      string `yaml:"data"`
	Responses string `yaml:"responses"`
}

// DownloadConfig configures the article sources.
type DownloadConfig struct {
	Sources      []string      `yaml:"sources"`
	ArxivQuery   string        `yaml:"arxiv_query"`
	ArxivIDs     []string      `yaml:"arxiv_ids"`
	ArxivMax     int           `yaml:"arxiv_max_results"`
	ContactName  string        `yaml:"contact_name"`
	ContactEmail string        `yaml:"contact_email"`
	OSFSubjects  []string      `yaml:"osf_subjects"`
	OSFPageSize  int           `yaml:"osf_page_size"`
	OSFPages     int           `yaml:"osf_pages"`
	OSFToken     string        `yaml:"-"`
	OSFInterval  time.Duration `yaml:"osf_interval"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// ProcessConfig configures document conversion.
type ProcessConfig struct {
	ImageSource string `yaml:"image_source"` // embedded or render
	RenderDPI   int    `yaml:"render_dpi"`
	MinImagePx  int    `yaml:"min_image_px"`
}

// DatasetConfig configures image sampling and context extraction.
type DatasetConfig struct {
	WindowBefore     int      `yaml:"window_before"`
	WindowAfter      int      `yaml:"window_after"`
	Seed             uint64   `yaml:"seed"`
	ImagesPerArticle int      `yaml:"images_per_article"`
	ContextMode      string   `yaml:"context_mode"` // window or section
	ExcludeAfter     []string `yaml:"exclude_after"`
}

// GenerateConfig configures the multimodal model calls.
type GenerateConfig struct {
	Provider         string        `yaml:"provider"` // openai, gemini or vertex
	Model            string        `yaml:"model"`
	BaseURL          string        `yaml:"base_url"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
	BasePrompt       string        `yaml:"base_prompt"`
	ReasoningEffort  string        `yaml:"reasoning_effort"`
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	Timeout          time.Duration `yaml:"timeout"`
	Project          string        `yaml:"project"`
	Location         string        `yaml:"location"`
	OpenAIKey        string        `yaml:"-"`
	GeminiKey        string        `yaml:"-"`
}

// APIKey returns the credential for the selected provider. Vertex uses application default credentials.
func (g GenerateConfig) APIKey() string {
	switch g.Provider {
	case "gemini":
		return g.GeminiKey
	case "vertex":
		return ""
	}
	return g.OpenAIKey
}

// EvaluateConfig configures the rating form.
type EvaluateConfig struct {
	Listen     string   `yaml:"listen"`
	RaterID    string   `yaml:"rater_id"`
	Secret     string   `yaml:"-"`
	ScaleMax   int      `yaml:"scale_max"`
	Dimensions []string `yaml:"dimensions"`
}

// StoreConfig selects where raw response artifacts live.
type StoreConfig struct {
	Backend string `yaml:"backend"` // fs or gcs
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// MetricsConfig configures the end-of-run metrics dump.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Load reads configuration from an optional YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if cfg.Paths.Root == "" || cfg.Paths.Root == "." {
			cfg.Paths.Root = filepath.Dir(path)
		}
	}

	_ = godotenv.Load() // a missing .env is fine

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the settings used for the published study.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Root:      ".",
			Articles:  "articles",
			Processed: "processed",
			Images:    "data/selected_images",
			Data:      "data",
			Responses: "responses",
		},
		Download: DownloadConfig{
			Sources:     []string{"arxiv", "osf"},
			ArxivQuery:  "all",
			ArxivMax:    25,
			ContactName: "Study Pipeline",
			OSFSubjects: []string{
				"Engineering",
				"Social and Behavioral Sciences",
				"Business",
				"Life Sciences",
			},
			OSFPageSize: 200,
			OSFPages:    1,
			OSFInterval: time.Second,
			Interval:    3 * time.Second,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Process: ProcessConfig{
			ImageSource: "embedded",
			RenderDPI:   144,
			MinImagePx:  64,
		},
		Dataset: DatasetConfig{
			WindowBefore:     3,
			WindowAfter:      3,
			Seed:             42,
			ImagesPerArticle: 1,
			ContextMode:      "window",
			ExcludeAfter:     []string{"references", "bibliography", "appendix"},
		},
		Generate: GenerateConfig{
			Provider:        "openai",
			Model:           "o4-mini",
			BaseURL:         "https://api.openai.com/v1",
			BasePrompt:      "Generate a clear, insightful, and informative interpretation of what the provided image reveals. ",
			ReasoningEffort: "high",
			MaxAttempts:     5,
			InitialBackoff:  2 * time.Second,
			MaxBackoff:      time.Minute,
			Timeout:         5 * time.Minute,
			Location:        "us-central1",
		},
		Evaluate: EvaluateConfig{
			Listen:     "127.0.0.1:8765",
			ScaleMax:   7,
			Dimensions: []string{"accuracy", "clarity", "relevance", "completeness"},
		},
		Store: StoreConfig{
			Backend: "fs",
			Prefix:  "responses",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for _, s := range c.Download.Sources {
		if s != "arxiv" && s != "osf" {
			return fmt.Errorf("invalid download source: %s", s)
		}
	}
	if c.Download.MaxAttempts < 1 {
		return fmt.Errorf("download.max_attempts must be at least 1")
	}
	if c.Process.ImageSource != "embedded" && c.Process.ImageSource != "render" {
		return fmt.Errorf("invalid process.image_source: %s", c.Process.ImageSource)
	}
	if c.Process.ImageSource == "render" && c.Process.RenderDPI <= 0 {
		return fmt.Errorf("process.render_dpi must be positive")
	}
	if c.Dataset.WindowBefore < 0 || c.Dataset.WindowAfter < 0 {
		return fmt.Errorf("dataset window sizes must not be negative")
	}
	if c.Dataset.WindowBefore == 0 && c.Dataset.WindowAfter == 0 && c.Dataset.ContextMode == "window" {
		return fmt.Errorf("dataset window must include at least one block")
	}
	if c.Dataset.ImagesPerArticle < 1 {
		return fmt.Errorf("dataset.images_per_article must be at least 1")
	}
	if c.Dataset.ContextMode != "window" && c.Dataset.ContextMode != "section" {
		return fmt.Errorf("invalid dataset.context_mode: %s", c.Dataset.ContextMode)
	}
	switch c.Generate.Provider {
	case "openai", "gemini", "vertex":
	default:
		return fmt.Errorf("invalid generate.provider: %s", c.Generate.Provider)
	}
	if c.Generate.MaxAttempts < 1 {
		return fmt.Errorf("generate.max_attempts must be at least 1")
	}
	if c.Evaluate.ScaleMax < 2 {
		return fmt.Errorf("evaluate.scale_max must be at least 2")
	}
	if len(c.Evaluate.Dimensions) == 0 {
		return fmt.Errorf("evaluate.dimensions must not be empty")
	}
	if c.Store.Backend != "fs" && c.Store.Backend != "gcs" {
		return fmt.Errorf("invalid store.backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "gcs" && c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required for the gcs backend")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}
	return nil
}

// Path resolves a configured path against the root directory.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Root, p)
}

// ArticlesDir is where raw downloads are stored.
func (c *Config) ArticlesDir() string { return c.Path(c.Paths.Articles) }

// ProcessedDir is where per-article structured output is stored.
func (c *Config) ProcessedDir() string { return c.Path(c.Paths.Processed) }

// ImagesDir is where selected images are copied.
func (c *Config) ImagesDir() string { return c.Path(c.Paths.Images) }

// DataDir holds the tabular artifacts.
func (c *Config) DataDir() string { return c.Path(c.Paths.Data) }

// ResponsesDir holds the raw response artifacts for the fs store.
func (c *Config) ResponsesDir() string { return c.Path(c.Paths.Responses) }

// DataFile returns the path of a tabular artifact.
func (c *Config) DataFile(name string) string { return filepath.Join(c.DataDir(), name) }

// applyEnvOverrides applies environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STUDY_ROOT"); v != "" {
		cfg.Paths.Root = v
	}
	if v := os.Getenv("OSF_API_TOKEN"); v != "" {
		cfg.Download.OSFToken = v
	}
	if v := os.Getenv("STUDY_CONTACT_NAME"); v != "" {
		cfg.Download.ContactName = v
	}
	if v := os.Getenv("STUDY_CONTACT_EMAIL"); v != "" {
		cfg.Download.ContactEmail = v
	}
	if v := os.Getenv("STUDY_PROVIDER"); v != "" {
		cfg.Generate.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Generate.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Generate.BaseURL = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.Generate.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		cfg.Generate.Location = v
	}
	cfg.Generate.OpenAIKey = firstEnv("OPENAI_API_KEY", "OPENROUTER_API_KEY")
	cfg.Generate.GeminiKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
	if v := os.Getenv("STUDY_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Dataset.Seed = seed
		}
	}
	if v := os.Getenv("STUDY_BLINDING_SECRET"); v != "" {
		cfg.Evaluate.Secret = v
	}
	if v := os.Getenv("STUDY_RATER_ID"); v != "" {
		cfg.Evaluate.RaterID = v
	}
	if v := os.Getenv("STUDY_GCS_BUCKET"); v != "" {
		cfg.Store.Backend = "gcs"
		cfg.Store.Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
