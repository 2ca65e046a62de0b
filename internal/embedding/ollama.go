package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fstsettat/formabot/internal/retry"
	"github.com/fstsettat/formabot/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	BaseURL           string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OllamaEmbedder calls Ollama's /api/embed endpoint. Requests are throttled,
// bounded by a per-request timeout, and retried on transport errors and 5xx.
type OllamaEmbedder struct {
	cfg     OllamaConfig
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *zap.Logger
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaLogger sets the logger for retries.
func WithOllamaLogger(l *zap.Logger) OllamaOption {
	return func(e *OllamaEmbedder) { e.logger = l }
}

// WithOllamaHTTPClient replaces the HTTP client.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// WithOllamaRetry replaces the retry policy.
func WithOllamaRetry(p retry.Policy) OllamaOption {
	return func(e *OllamaEmbedder) { e.policy = p }
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama client. Dimensions must be set because
// a failed batch is replaced with zero vectors of that length.
func NewOllamaEmbedder(cfg OllamaConfig, opts ...OllamaOption) (*OllamaEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	e := &OllamaEmbedder{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		policy:  retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Vectors are returned unit-length.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var out ollamaEmbedResponse
	err = retry.Do(ctx, e.policy, func(ctx context.Context) error {
		out = ollamaEmbedResponse{}
		return e.post(ctx, body, &out)
	}, retry.WithLogger(e.logger), retry.WithName("ollama embed"))
	if err != nil {
		return nil, err
	}

	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	for i, v := range out.Embeddings {
		if len(v) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), e.cfg.Dimensions)
		}
		utils.NormalizeL2(v)
	}
	return out.Embeddings, nil
}

func (e *OllamaEmbedder) post(ctx context.Context, body []byte, out any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return retry.Permanent(err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return retry.Permanent(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Model returns the Ollama model name.
func (e *OllamaEmbedder) Model() string {
	return e.cfg.Model
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error {
	return nil
}
