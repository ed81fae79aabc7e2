// Package config loads the subsystem's YAML configuration and serves
// immutable snapshots. Reload is explicit; running components keep the
// snapshot they started with until the orchestrator hands them a new one.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/profile"
)

// Duration wraps time.Duration for YAML fields written as "90s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is one immutable configuration snapshot.
type Config struct {
	// Profile selects a hardware profile by name. Empty or "auto"
	// detects one from the host.
	Profile string `yaml:"profile"`

	// DataDir is the root for the database and vector index state.
	DataDir string `yaml:"data_dir"`

	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Search       SearchConfig       `yaml:"search"`
	Rerank       RerankConfig       `yaml:"rerank"`
	Cache        CacheConfig        `yaml:"cache"`
	Summary      SummaryConfig      `yaml:"summary"`
	Retention    RetentionConfig    `yaml:"retention"`
}

// EmbeddingConfig locates the bi-encoder models.
type EmbeddingConfig struct {
	// ModelDir holds one subdirectory per model, each with model.onnx
	// and tokenizer.json.
	ModelDir string `yaml:"model_dir"`

	// SharedLibraryPath points at libonnxruntime. Empty uses the
	// runtime's default lookup.
	SharedLibraryPath string `yaml:"shared_library_path"`
}

type SegmentationConfig struct {
	Policy         string   `yaml:"policy"`
	BaseGap        Duration `yaml:"base_gap"`
	MinGap         Duration `yaml:"min_gap"`
	MaxGap         Duration `yaml:"max_gap"`
	SemanticCutoff float64  `yaml:"semantic_cutoff"`
	MaxMessages    int      `yaml:"max_messages"`
}

type SearchConfig struct {
	SemanticWeight  float64  `yaml:"semantic_weight"`
	KeywordWeight   float64  `yaml:"keyword_weight"`
	DefaultLimit    int      `yaml:"default_limit"`
	SemanticTimeout Duration `yaml:"semantic_timeout"`
}

type RerankConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ModelID       string `yaml:"model_id"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
}

type CacheConfig struct {
	MaxEntries int64    `yaml:"max_entries"`
	TTL        Duration `yaml:"ttl"`
}

type SummaryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type RetentionConfig struct {
	// Days keeps segments this long; zero disables the purge entirely.
	Days int `yaml:"days"`

	// Schedule is a cron expression for the retention sweep.
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Profile: "auto",
		DataDir: "data",
		Segmentation: SegmentationConfig{
			Policy:         "hybrid",
			BaseGap:        Duration(5 * time.Minute),
			MinGap:         Duration(time.Minute),
			MaxGap:         Duration(30 * time.Minute),
			SemanticCutoff: 0.35,
			MaxMessages:    50,
		},
		Search: SearchConfig{
			SemanticWeight:  0.6,
			KeywordWeight:   0.4,
			DefaultLimit:    10,
			SemanticTimeout: Duration(2 * time.Second),
		},
		Cache: CacheConfig{
			MaxEntries: 4096,
			TTL:        Duration(5 * time.Minute),
		},
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
		},
	}
}

// Load reads and validates a configuration file. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %v: %w", path, err, core.ErrConfiguration)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %v: %w", path, err, core.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component could run with.
func (c *Config) Validate() error {
	if c.Profile != "" && c.Profile != "auto" {
		if _, err := profile.ByName(c.Profile); err != nil {
			return err
		}
	}
	switch c.Segmentation.Policy {
	case "", "time", "semantic", "hybrid", "adaptive":
	default:
		return fmt.Errorf("unknown segmentation policy %q: %w", c.Segmentation.Policy, core.ErrConfiguration)
	}
	if c.Search.SemanticWeight < 0 || c.Search.KeywordWeight < 0 {
		return fmt.Errorf("search weights must not be negative: %w", core.ErrConfiguration)
	}
	if c.Search.SemanticWeight == 0 && c.Search.KeywordWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive: %w", core.ErrConfiguration)
	}
	if c.Rerank.Enabled && c.Rerank.ModelPath == "" {
		return fmt.Errorf("rerank enabled without a model path: %w", core.ErrConfiguration)
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative: %w", core.ErrConfiguration)
	}
	return nil
}

// Manager serves the current snapshot and swaps it on explicit reload.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
}

// NewManager loads the initial snapshot from path. An empty path serves
// defaults and makes Reload a no-op.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the live snapshot. Callers must not mutate it.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload re-reads the file and swaps the snapshot. On any error the
// previous snapshot stays live.
func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Current(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	return cfg, nil
}
