// Package reasoning provides a typed client for the local text-generation
// service that annotates candidate selections, graph edges and execution
// results with natural-language rationale.
//
// Unavailability is a first-class outcome, not a fault: every caller holds a
// neutral fallback string and substitutes it when the service cannot answer.
// The client never retries.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable collapses network errors, timeouts and non-2xx responses
// from the generation endpoint into a single sentinel.
var ErrUnavailable = errors.New("reasoning service unavailable")

// Params enumerates the generation parameters. Temperature is in [0,1].
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Service is the surface upstream components depend on. *Client implements
// it; tests substitute fakes.
type Service interface {
	// Healthy reports whether the generation endpoint answers, within a
	// bounded latency.
	Healthy(ctx context.Context) bool

	// Complete performs a single-shot text completion. Any transport
	// error, timeout or non-2xx status yields ErrUnavailable.
	Complete(ctx context.Context, prompt string, p Params) (string, error)
}

// Config holds client configuration.
type Config struct {
	BaseURL        string // Default: "http://localhost:1500"
	Model          string // Default: "mistral"
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
}

// Client talks to the local generation service. It holds no per-request
// state; concurrent requests are allowed and independent.
type Client struct {
	baseURL       string
	model         string
	healthTimeout time.Duration
	client        *http.Client
	log           *zap.Logger
}

// NewClient creates a reasoning client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1500"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		model:         cfg.Model,
		healthTimeout: cfg.HealthTimeout,
		client:        &http.Client{Timeout: cfg.RequestTimeout},
		log:           log,
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Healthy probes the endpoint with a bounded timeout.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete performs a single-shot completion.
func (c *Client) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  p.MaxTokens,
			Temperature: p.Temperature,
			Stop:        p.Stop,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("reasoning request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("reasoning endpoint returned error status", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return out.Response, nil
}

// CompleteOr runs a completion against svc and substitutes fallback when the
// service is nil or unavailable. This is the single degradation path for all
// rationale fields.
func CompleteOr(ctx context.Context, svc Service, prompt string, p Params, fallback string) string {
	if svc == nil {
		return fallback
	}
	text, err := svc.Complete(ctx, prompt, p)
	if err != nil || text == "" {
		return fallback
	}
	return text
}
