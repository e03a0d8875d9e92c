package config

import (
	"os"
	"strconv"
	"time"
)

// Environment variable names. Only operational knobs are overridable; the
// relation table and plan files stay file-based.
const (
	EnvReasoningHost  = "CMDWEAVER_REASONING_HOST"
	EnvReasoningPort  = "CMDWEAVER_REASONING_PORT"
	EnvReasoningModel = "CMDWEAVER_REASONING_MODEL"
	EnvNodeTimeout    = "CMDWEAVER_NODE_TIMEOUT"
	EnvStreamCap      = "CMDWEAVER_STREAM_CAP"
	EnvMaxParallel    = "CMDWEAVER_MAX_PARALLEL"
	EnvIndexPath      = "CMDWEAVER_INDEX_PATH"
	EnvOllamaEndpoint = "CMDWEAVER_OLLAMA_ENDPOINT"
	EnvOllamaModel    = "CMDWEAVER_OLLAMA_MODEL"
)

// ApplyEnvOverrides applies environment variable overrides in place.
// Malformed values are ignored; the configured value stands.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvReasoningHost); v != "" {
		c.Reasoning.Host = v
	}
	if v := os.Getenv(EnvReasoningPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			c.Reasoning.Port = port
		}
	}
	if v := os.Getenv(EnvReasoningModel); v != "" {
		c.Reasoning.Model = v
	}
	if v := os.Getenv(EnvNodeTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Executor.NodeTimeout = Duration(d)
		}
	}
	if v := os.Getenv(EnvStreamCap); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Executor.StreamCap = n
		}
	}
	if v := os.Getenv(EnvMaxParallel); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Executor.MaxParallel = n
		}
	}
	if v := os.Getenv(EnvIndexPath); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv(EnvOllamaEndpoint); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv(EnvOllamaModel); v != "" {
		c.Embedding.OllamaModel = v
	}
}
