// Package inference wraps the external text-understanding service that
// summarizes posts, tags topics and writes extraction schemas.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned by providers without credentials
var ErrNotConfigured = errors.New("inference provider not configured")

// Request is one structured-output call
type Request struct {
	Operation string // short name used in logs and errors, e.g. "summary"
	Prompt    string
	Schema    map[string]any // JSON schema the response must satisfy
	MaxTokens int
}

// Inferrer returns a JSON document answering req
type Inferrer interface {
	Infer(ctx context.Context, req Request) (json.RawMessage, error)
}

// Error reports an inference call that failed after every attempt
type Error struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference %s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClientConfig controls retries and throttling around a provider
type ClientConfig struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	RequestsPerSecond float64 // 0 disables throttling
}

// Client retries a provider a fixed number of times with a fixed delay and
// throttles calls across all goroutines sharing it.
type Client struct {
	provider Inferrer
	cfg      ClientConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

var _ Inferrer = (*Client)(nil)

// NewClient creates a new retrying client around provider
func NewClient(provider Inferrer, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		provider: provider,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "inference")),
	}
}

// Infer calls the provider until it returns valid JSON or attempts run out.
func (c *Client) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	var lastErr error
	attempts := 0

	for attempts < c.cfg.MaxAttempts {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &Error{Operation: req.Operation, Attempts: attempts, Err: err}
			}
		}

		attempts++
		raw, err := c.provider.Infer(ctx, req)
		if err == nil {
			raw, err = cleanJSON(raw)
		}
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
			break
		}
		if attempts < c.cfg.MaxAttempts {
			c.logger.Warn("Inference attempt failed, retrying",
				zap.String("operation", req.Operation),
				zap.Int("attempt", attempts),
				zap.Error(err))

			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, &Error{Operation: req.Operation, Attempts: attempts, Err: ctx.Err()}
			}
		}
	}

	return nil, &Error{Operation: req.Operation, Attempts: attempts, Err: lastErr}
}

// cleanJSON strips markdown code fences and checks the remainder is JSON.
func cleanJSON(raw []byte) (json.RawMessage, error) {
	text := StripFences(string(raw))
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("response is not valid JSON: %q", truncate(text, 200))
	}
	return json.RawMessage(text), nil
}

// StripFences removes a surrounding ```json (or bare ```) fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[3:]
	} else {
		return text
	}
	if j := strings.Index(text, "```"); j >= 0 {
		text = text[:j]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
