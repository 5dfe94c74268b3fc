// Package enrichment derives summary, reading time and topics for a post.
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"blog-monitor/pkg/content"
	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/inference"
)

// Result is the outcome of one enrichment step
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the step produced a value.
func (r Result[T]) OK() bool { return r.Err == nil }

// ErrNoText is the step error when there is no usable article text
var ErrNoText = errors.New("no usable article text")

// Worker processes one post at a time. It holds no mutable state, so a
// single Worker can serve many goroutines.
type Worker struct {
	fetcher   httpclient.Fetcher
	extractor content.Extractor
	inferrer  inference.Inferrer
	logger    *zap.Logger
}

// NewWorker creates a new enrichment worker
func NewWorker(fetcher httpclient.Fetcher, extractor content.Extractor, inferrer inference.Inferrer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		inferrer:  inferrer,
		logger:    logger.With(zap.String("component", "enrichment")),
	}
}

// Process fetches the post, extracts its text and enriches it. A fetch
// failure ends processing with ErrorNetwork; every later step runs on its
// own and records its failure on the result.
func (w *Worker) Process(ctx context.Context, stub domain.PostStub, topics []string) domain.ProcessingResult {
	text, err := w.FetchText(ctx, stub.URL)
	if err != nil {
		res := domain.NewProcessingResult(stub)
		res.ErrorType = domain.ErrorNetwork
		res.Err = err
		w.logger.Info("Post fetch failed", zap.String("post_url", stub.URL), zap.Error(err))
		return res
	}
	return w.Enrich(ctx, stub, text, topics)
}

// FetchText retrieves the post page and isolates its article text. The
// returned error is the fetch failure; extraction failures are carried in
// the Result.
func (w *Worker) FetchText(ctx context.Context, url string) (Result[string], error) {
	_, body, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return Result[string]{}, err
	}
	text, err := w.extractor.ExtractText(string(body), url)
	return Result[string]{Value: text, Err: err}, nil
}

// Enrich runs the summary, reading time and topic steps on text and folds
// them into a ProcessingResult.
func (w *Worker) Enrich(ctx context.Context, stub domain.PostStub, text Result[string], topics []string) domain.ProcessingResult {
	res := domain.NewProcessingResult(stub)
	res.Text = text.Value

	var errs []error
	if !text.OK() {
		res.ErrorType = domain.ErrorExtraction
		errs = append(errs, fmt.Errorf("extraction: %w", text.Err))
		text = Result[string]{Err: fmt.Errorf("%w: %v", ErrNoText, text.Err)}
	}

	summary := w.Summary(ctx, text)
	if summary.OK() {
		res.Summary = summary.Value.Summary
		res.Density = summary.Value.TechnicalDensity
	} else if text.OK() {
		errs = append(errs, fmt.Errorf("summary: %w", summary.Err))
	}

	reading := w.ReadingTime(text, res.Density)
	if reading.OK() {
		res.ReadingTime = reading.Value
	}

	matched := w.Topics(ctx, text, topics)
	if matched.OK() {
		res.Topics = matched.Value.Matched
		res.NewTopics = matched.Value.Suggestions
	} else if text.OK() {
		errs = append(errs, fmt.Errorf("topics: %w", matched.Err))
	}

	if len(errs) > 0 {
		if res.ErrorType == domain.ErrorNone {
			res.ErrorType = domain.ErrorInference
		}
		res.Err = errors.Join(errs...)
		w.logger.Info("Post enrichment incomplete",
			zap.String("post_url", stub.URL),
			zap.String("error_type", string(res.ErrorType)),
			zap.Error(res.Err))
	}
	return res
}

// Summary derives the summary and technical density.
func (w *Worker) Summary(ctx context.Context, text Result[string]) Result[inference.Summary] {
	if !text.OK() {
		return Result[inference.Summary]{Err: text.Err}
	}
	s, err := inference.Summarize(ctx, w.inferrer, text.Value)
	return Result[inference.Summary]{Value: s, Err: err}
}

// ReadingTime derives minutes to read; density may be domain.DensityUnset.
func (w *Worker) ReadingTime(text Result[string], density int) Result[int] {
	if !text.OK() {
		return Result[int]{Err: text.Err}
	}
	return Result[int]{Value: ReadingTime(text.Value, density)}
}

// Topics matches text against the topic directory.
func (w *Worker) Topics(ctx context.Context, text Result[string], topics []string) Result[inference.TopicMatch] {
	if !text.OK() {
		return Result[inference.TopicMatch]{Err: text.Err}
	}
	m, err := inference.MatchTopics(ctx, w.inferrer, text.Value, topics)
	return Result[inference.TopicMatch]{Value: m, Err: err}
}
