package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ClientType represents the type of HTTP client configuration
type ClientType string

const (
	// BrowserClient uses browser-like headers to avoid 406 (Not Acceptable) errors
	BrowserClient ClientType = "browser"

	// CloudflareClient uses simple headers (like curl) to avoid 403 (Forbidden) errors
	// from sites that block browser-like User-Agents
	CloudflareClient ClientType = "cloudflare"
)

const maxBodyBytes = 10 << 20

// Fetcher retrieves a page body
type Fetcher interface {
	Fetch(ctx context.Context, url string) (int, []byte, error)
}

// Config holds transport and retry settings
type Config struct {
	ClientType ClientType
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // initial backoff interval
}

// HTTPClient wraps an http.Client with configuration
type HTTPClient struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

var _ Fetcher = (*HTTPClient)(nil)

// NewClient creates a new HTTP client
func NewClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.ClientType == "" {
		cfg.ClientType = BrowserClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Follow up to 10 redirects
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPClient{client: client, cfg: cfg, logger: logger}
}

// Do executes an HTTP request with the appropriate headers for the client type
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	return c.client.Do(req)
}

// Fetch GETs url, retrying transport failures, 429 and 5xx responses with
// exponential backoff. Any failure is returned as a *FetchError.
func (c *HTTPClient) Fetch(ctx context.Context, url string) (int, []byte, error) {
	var (
		status int
		body   []byte
	)

	attempt := 0
	op := func() error {
		attempt++
		var err error
		status, body, err = c.fetchOnce(ctx, url)
		if err == nil {
			return nil
		}
		if !retryable(status) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Debug("Retrying page fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return status, nil, &FetchError{URL: url, StatusCode: status, Attempts: attempt, Err: err}
	}
	return status, body, nil
}

func (c *HTTPClient) fetchOnce(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// retryable reports whether a failed attempt with the given status is worth
// repeating. Status 0 means the request never got a response.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// setHeaders sets the appropriate headers based on client type
func (c *HTTPClient) setHeaders(req *http.Request) {
	switch c.cfg.ClientType {
	case BrowserClient:
		ua := c.cfg.UserAgent
		if ua == "" {
			ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Connection", "keep-alive")
		req.Header.Set("Upgrade-Insecure-Requests", "1")

	case CloudflareClient:
		req.Header.Set("User-Agent", "curl/8.7.1")
	}
}
