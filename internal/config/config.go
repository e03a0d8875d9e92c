// Package config holds all cmdweaver configuration.
//
// Configuration is loaded from an optional YAML file, overlaid on
// DefaultConfig, and finally adjusted by environment overrides (see env.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cmdweaver configuration.
type Config struct {
	// Embedding provider configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoning service configuration
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Vector index configuration
	Index IndexConfig `yaml:"index"`

	// Semantic search configuration
	Search SearchConfig `yaml:"search"`

	// Executor configuration
	Executor ExecutorConfig `yaml:"executor"`

	// Plan mode configuration
	Plans PlansConfig `yaml:"plans"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "hash"
	Provider string `yaml:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "all-minilm"

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"

	// Dimensions of the embedding space. Fixed at index-build time and
	// checked at query time.
	Dimensions int `yaml:"dimensions"`

	// CacheSize bounds the in-memory embedding cache (entries). 0 disables.
	CacheSize int `yaml:"cache_size"`
}

// ReasoningConfig configures the local text-generation service.
type ReasoningConfig struct {
	Host        string   `yaml:"host"`  // Default: "localhost"
	Port        int      `yaml:"port"`  // Default: 1500
	Model       string   `yaml:"model"` // Default: "mistral"
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Stop        []string `yaml:"stop"`

	// HealthTimeout bounds the health probe; RequestTimeout bounds a
	// single completion call.
	HealthTimeout  Duration `yaml:"health_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// BaseURL returns the generation endpoint base URL.
func (c ReasoningConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// IndexConfig configures the persistent vector index.
type IndexConfig struct {
	// Path to the sqlite database file. Default: ~/.cmdweaver/index.db
	Path string `yaml:"path"`

	// OrgDir holds organizational memo files indexed with section "org".
	OrgDir string `yaml:"org_dir"`

	// DescriptionCap bounds extracted man-page descriptions (bytes).
	DescriptionCap int `yaml:"description_cap"`
}

// SearchConfig configures semantic search.
type SearchConfig struct {
	Limit      int     `yaml:"limit"`       // Default per-call limit
	MaxLimit   int     `yaml:"max_limit"`   // Hard cap on per-call limits
	Threshold  float64 `yaml:"threshold"`   // Cosine similarity floor, default 0.3
	IncludeOrg bool    `yaml:"include_org"` // Include section "org" entries
}

// ExecutorConfig configures DAG execution.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent child processes. 0 means the logical
	// CPU count clamped to [2, 16].
	MaxParallel int `yaml:"max_parallel"`

	// NodeTimeout is the per-node deadline. Default 30s.
	NodeTimeout Duration `yaml:"node_timeout"`

	// StreamCap bounds captured bytes per stream. Default 256 KiB.
	StreamCap int `yaml:"stream_cap"`

	// Grace is the terminate-to-kill escalation window. Default 2s.
	Grace Duration `yaml:"grace"`

	// Strict switches failure propagation from best-effort to strict.
	Strict bool `yaml:"strict"`
}

// EffectiveMaxParallel resolves MaxParallel, applying the CPU clamp.
func (c ExecutorConfig) EffectiveMaxParallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	if n > 16 {
		n = 16
	}
	return n
}

// PlansConfig configures hand-authored plan loading.
type PlansConfig struct {
	// Dir holds YAML plan files merged over the built-in plans.
	Dir string `yaml:"dir"`

	// Watch enables hot reload of the plans directory.
	Watch bool `yaml:"watch"`

	// RelationsPath optionally overrides the built-in relation table.
	RelationsPath string `yaml:"relations_path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "all-minilm",
			GenAIModel:     "gemini-embedding-001",
			Dimensions:     384,
			CacheSize:      4096,
		},
		Reasoning: ReasoningConfig{
			Host:           "localhost",
			Port:           1500,
			Model:          "mistral",
			MaxTokens:      128,
			Temperature:    0.2,
			HealthTimeout:  Duration(2 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
		},
		Index: IndexConfig{
			Path:           filepath.Join(home, ".cmdweaver", "index.db"),
			DescriptionCap: 2048,
		},
		Search: SearchConfig{
			Limit:     10,
			MaxLimit:  50,
			Threshold: 0.3,
		},
		Executor: ExecutorConfig{
			NodeTimeout: Duration(30 * time.Second),
			StreamCap:   256 * 1024,
			Grace:       Duration(2 * time.Second),
		},
	}
}

// Load reads configuration from path, overlaying DefaultConfig. A missing
// file is not an error; the defaults are returned. Environment overrides are
// applied last.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate component contracts.
func (c Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("search.threshold must be in [0,1], got %v", c.Search.Threshold)
	}
	if c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive, got %d", c.Search.MaxLimit)
	}
	if c.Reasoning.Port <= 0 || c.Reasoning.Port > 65535 {
		return fmt.Errorf("reasoning.port out of range: %d", c.Reasoning.Port)
	}
	if c.Executor.StreamCap <= 0 {
		return fmt.Errorf("executor.stream_cap must be positive, got %d", c.Executor.StreamCap)
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
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

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
