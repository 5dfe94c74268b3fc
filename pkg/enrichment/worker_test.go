package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-monitor/pkg/content"
	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/inference"
)

type pageFetcher map[string]string

func (f pageFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	body, ok := f[url]
	if !ok {
		return 0, nil, &httpclient.FetchError{URL: url, Attempts: 1, Err: errors.New("connection refused")}
	}
	return 200, []byte(body), nil
}

// opInferrer answers by operation name; a missing entry fails the call.
type opInferrer struct {
	mu      sync.Mutex
	answers map[string]string
	calls   map[string]int
}

func (f *opInferrer) Infer(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.Operation]++
	answer, ok := f.answers[req.Operation]
	if !ok {
		return nil, &inference.Error{Operation: req.Operation, Attempts: 1, Err: errors.New("model unavailable")}
	}
	return json.RawMessage(answer), nil
}

func articlePage(words int) string {
	return "<html><body><article><p>" + strings.TrimSpace(strings.Repeat("word ", words)) + "</p></article></body></html>"
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 5, ReadingTime(strings.Repeat("w ", 500), 3))
	assert.Equal(t, 2, ReadingTime(strings.Repeat("w ", 360), domain.DensityUnset))
	assert.Equal(t, 1, ReadingTime("", 1))
	assert.Equal(t, 4, ReadingTime(strings.Repeat("w ", 770), 1), "3.5 rounds to even")
	assert.Equal(t, 2, ReadingTime(strings.Repeat("w ", 450), 2), "2.5 rounds to even")
}

func TestProcess_FullSuccess(t *testing.T) {
	fetcher := pageFetcher{"https://example.com/p": articlePage(360)}
	inf := &opInferrer{answers: map[string]string{
		"summary": `{"summary": "About Go.", "technical_density": 3}`,
		"topics":  `{"matched_topics": ["golang"], "new_topic_suggestions": ["Concurrency"]}`,
	}}
	w := NewWorker(fetcher, content.NewDefaultExtractor(100), inf, nil)

	res := w.Process(context.Background(), domain.PostStub{Title: "P", URL: "https://example.com/p"}, []string{"golang"})

	assert.Equal(t, domain.ErrorNone, res.ErrorType)
	assert.NoError(t, res.Err)
	assert.Equal(t, "About Go.", res.Summary)
	assert.Equal(t, 3, res.Density)
	assert.Equal(t, 4, res.ReadingTime)
	assert.Equal(t, []string{"golang"}, res.Topics)
	assert.Equal(t, []string{"concurrency"}, res.NewTopics)
	assert.True(t, res.FullySuccessful())
}

func TestProcess_SummaryFailsTopicsSucceed(t *testing.T) {
	fetcher := pageFetcher{"https://example.com/p": articlePage(360)}
	inf := &opInferrer{answers: map[string]string{
		"topics": `{"matched_topics": [], "new_topic_suggestions": ["databases"]}`,
	}}
	w := NewWorker(fetcher, content.NewDefaultExtractor(100), inf, nil)

	res := w.Process(context.Background(), domain.PostStub{Title: "P", URL: "https://example.com/p"}, nil)

	assert.Equal(t, domain.ErrorInference, res.ErrorType)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "summary")
	assert.Empty(t, res.Summary)
	assert.Equal(t, domain.DensityUnset, res.Density)
	assert.Equal(t, 2, res.ReadingTime, "unset density reads at the medium pace")
	assert.Equal(t, []string{"databases"}, res.NewTopics)
	assert.True(t, res.PartiallySuccessful())
	assert.Equal(t, 1, inf.calls["topics"])
}

func TestProcess_NetworkFailureAborts(t *testing.T) {
	inf := &opInferrer{}
	w := NewWorker(pageFetcher{}, content.NewDefaultExtractor(100), inf, nil)

	res := w.Process(context.Background(), domain.PostStub{Title: "P", URL: "https://down.example.com/p"}, nil)

	assert.Equal(t, domain.ErrorNetwork, res.ErrorType)
	assert.True(t, httpclient.IsFetchError(res.Err))
	assert.False(t, res.Persistable())
	assert.Empty(t, inf.calls, "no inference after a network failure")
}

func TestProcess_ShortTextIsExtractionFailure(t *testing.T) {
	fetcher := pageFetcher{"https://example.com/p": articlePage(3)}
	inf := &opInferrer{}
	w := NewWorker(fetcher, content.NewDefaultExtractor(100), inf, nil)

	res := w.Process(context.Background(), domain.PostStub{Title: "P", URL: "https://example.com/p"}, nil)

	assert.Equal(t, domain.ErrorExtraction, res.ErrorType)
	assert.True(t, errors.Is(res.Err, content.ErrTooShort))
	assert.False(t, res.Persistable())
	assert.Empty(t, inf.calls)
}

func TestEnrich_WithCachedText(t *testing.T) {
	inf := &opInferrer{answers: map[string]string{
		"summary": `{"summary": "Cached.", "technical_density": 1}`,
		"topics":  `{"matched_topics": [], "new_topic_suggestions": []}`,
	}}
	w := NewWorker(pageFetcher{}, content.NewDefaultExtractor(100), inf, nil)

	res := w.Enrich(context.Background(), domain.PostStub{URL: "https://example.com/p"}, Result[string]{Value: strings.Repeat("w ", 440)}, nil)

	assert.Equal(t, "Cached.", res.Summary)
	assert.Equal(t, 2, res.ReadingTime)
	assert.False(t, res.HasTopics())
	assert.True(t, res.PartiallySuccessful())
}
