package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig configures the Anthropic Messages API provider
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string // optional, for proxies and tests
	MaxTokens int
}

// AnthropicProvider asks Claude for JSON matching the request schema
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	enabled   bool
}

var _ Inferrer = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a provider. Retries are left to Client.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		enabled:   cfg.APIKey != "",
	}
}

// Infer sends the prompt with the schema as the system instruction.
func (p *AnthropicProvider) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	if !p.enabled {
		return nil, ErrNotConfigured
	}

	system, err := systemPrompt(req.Schema)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("anthropic response has no text (stop reason %q)", msg.StopReason)
	}
	return json.RawMessage(strings.Join(parts, "\n")), nil
}

func systemPrompt(schema map[string]any) (string, error) {
	if schema == nil {
		return "Respond with a single JSON value and nothing else.", nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal response schema: %w", err)
	}
	return "Respond with a single JSON object that validates against this JSON schema, " +
		"with no prose and no markdown:\n" + string(raw), nil
}
