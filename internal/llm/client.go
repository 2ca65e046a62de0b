package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// httpClient is the transport shared by the providers: throttled, bounded by
// a per-request timeout, and retried on transport errors, 429 and 5xx.
type httpClient struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a provider client.
type Option func(*httpClient)

// WithLogger sets the logger for retries.
func WithLogger(l *zap.Logger) Option {
	return func(c *httpClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.client = hc }
}

// WithRetry replaces the retry policy.
func WithRetry(p retry.Policy) Option {
	return func(c *httpClient) { c.policy = p }
}

func newHTTPClient(name string, cfg config.LLMConfig, opts []Option) httpClient {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := httpClient{
		name:    name,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		policy:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second},
		timeout: timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// postJSON sends body to url and decodes the JSON reply into out, retrying
// per the client's policy.
func (c *httpClient) postJSON(ctx context.Context, url string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.post(ctx, url, header, payload, out)
	}, retry.WithLogger(c.logger), retry.WithName(c.name))
}

func (c *httpClient) post(ctx context.Context, url string, header http.Header, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.Permanent(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(msg)))
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
