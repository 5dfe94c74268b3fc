package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns its replies in order, then repeats the last one.
type scriptedProvider struct {
	replies []reply
	calls   int
	prompts []string
}

type reply struct {
	body string
	err  error
}

func (p *scriptedProvider) Infer(ctx context.Context, req Request) (json.RawMessage, error) {
	p.prompts = append(p.prompts, req.Prompt)
	r := p.replies[min(p.calls, len(p.replies)-1)]
	p.calls++
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.body), nil
}

func fastClient(p Inferrer) *Client {
	return NewClient(p, ClientConfig{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("Here you go:\n```json\n{\"a\":1}\n```\nThanks"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}

func TestClip_KeepsRuneBoundary(t *testing.T) {
	short := "héllo"
	assert.Equal(t, short, clip(short))

	// "é" is two bytes; starting at an odd offset puts one across the limit
	long := "x" + strings.Repeat("é", maxPromptChars)
	got := clip(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxPromptChars-1, len(got))
	assert.True(t, strings.HasPrefix(long, got))
}

func TestClient_RetriesUntilValidJSON(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{err: errors.New("overloaded")},
		{body: "not json at all"},
		{body: "```json\n{\"ok\": true}\n```"},
	}}

	raw, err := fastClient(p).Infer(context.Background(), Request{Operation: "test"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
	assert.Equal(t, 3, p.calls)
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: errors.New("boom")}}}

	_, err := fastClient(p).Infer(context.Background(), Request{Operation: "summary"})
	require.Error(t, err)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "summary", ie.Operation)
	assert.Equal(t, 3, ie.Attempts)
	assert.Equal(t, 3, p.calls)
}

func TestClient_NotConfiguredIsNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: ErrNotConfigured}}}
	_, err := fastClient(p).Infer(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Equal(t, 1, p.calls)
}

func TestSummarize(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{body: `{"summary": " A post about Go. ", "technical_density": 3}`}}}
	s, err := Summarize(context.Background(), fastClient(p), "text")
	require.NoError(t, err)
	assert.Equal(t, Summary{Summary: "A post about Go.", TechnicalDensity: 3}, s)

	bad := &scriptedProvider{replies: []reply{{body: `{"summary": "x", "technical_density": 7}`}}}
	_, err = Summarize(context.Background(), bad, "text")
	assert.Error(t, err)
}

func TestMatchTopics_Normalizes(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{body: `{
		"matched_topics": ["golang", "made-up"],
		"new_topic_suggestions": ["Distributed Systems", "golang", "  Rust!  ", "wasm", "one-too-many"]
	}`}}}

	got, err := MatchTopics(context.Background(), p, "text", []string{"golang", "databases"})
	require.NoError(t, err)
	assert.Equal(t, []string{"golang"}, got.Matched)
	assert.Equal(t, []string{"distributed-systems", "rust", "wasm"}, got.Suggestions)
	assert.Contains(t, p.prompts[0], "databases, golang")
}

func TestNormalizeTopic(t *testing.T) {
	assert.Equal(t, "machine-learning", NormalizeTopic("Machine  Learning"))
	assert.Equal(t, "c-plus-plus", NormalizeTopic("c-plus-plus"))
	assert.Equal(t, "", NormalizeTopic("  !!! "))
}

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"json_schema"`)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"summary\":\"s\",\"technical_density\":2}"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{Endpoint: server.URL, Model: "gpt-test", APIKey: "secret"})
	s, err := Summarize(context.Background(), p, "text")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TechnicalDensity)
}

func TestOpenAIProvider_NotConfigured(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{}).Infer(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestAnthropicProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "` + "```json\\n{\\\"summary\\\": \\\"s\\\", \\\"technical_density\\\": 1}\\n```" + `"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	s, err := Summarize(context.Background(), fastClient(p), "text")
	require.NoError(t, err)
	assert.Equal(t, Summary{Summary: "s", TechnicalDensity: 1}, s)
}

func TestAnthropicProvider_NotConfigured(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{}).Infer(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
