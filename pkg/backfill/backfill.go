// Package backfill re-derives the missing fields of stored posts. Fields
// that already hold a value are never recomputed or overwritten.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"blog-monitor/pkg/enrichment"
	"blog-monitor/pkg/inference"
	"blog-monitor/pkg/store"
	"blog-monitor/pkg/worker"
)

// Status is the outcome for one post
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Store is the persistence the runner needs
type Store interface {
	BackfillCandidates(ctx context.Context, f store.BackfillFilter) ([]store.Candidate, error)
	TopicNames(ctx context.Context) ([]string, error)
	FillMissing(ctx context.Context, id int64, f store.Fields) (bool, error)
	EnsureTopics(ctx context.Context, names []string) (map[string]int64, error)
	LinkPostTopics(ctx context.Context, postID int64, topicIDs []int64) error
}

// Enricher derives individual fields
type Enricher interface {
	FetchText(ctx context.Context, url string) (enrichment.Result[string], error)
	Summary(ctx context.Context, text enrichment.Result[string]) enrichment.Result[inference.Summary]
	Topics(ctx context.Context, text enrichment.Result[string], topics []string) enrichment.Result[inference.TopicMatch]
}

// Observer is told about every post outcome
type Observer interface {
	PostBackfilled(status string)
}

// Options select the posts and how to run
type Options struct {
	PostID       int64
	Within       time.Duration // discovered within this window, 0 for any age
	FullTextOnly bool
	DryRun       bool
	Workers      int
	TaskTimeout  time.Duration
	Limit        int
}

// PostResult is what happened to one post
type PostResult struct {
	PostID int64
	Title  string
	URL    string
	Status Status
	Filled []string // fields written, or that would be in a dry run
	Err    error
}

// Summary totals a run
type Summary struct {
	Total   int
	Success int
	Partial int
	Errors  int
	DryRun  bool
	Results []PostResult
}

// Runner executes backfills
type Runner struct {
	store    Store
	enricher Enricher
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a new runner. observer may be nil.
func NewRunner(st Store, enricher Enricher, observer Observer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    st,
		enricher: enricher,
		observer: observer,
		logger:   logger.With(zap.String("component", "backfill")),
		now:      time.Now,
	}
}

// Candidates lists the posts Run would process.
func (r *Runner) Candidates(ctx context.Context, opts Options) ([]store.Candidate, error) {
	f := store.BackfillFilter{PostID: opts.PostID, FullTextOnly: opts.FullTextOnly, Limit: opts.Limit}
	if opts.Within > 0 {
		f.Since = r.now().Add(-opts.Within)
	}
	return r.store.BackfillCandidates(ctx, f)
}

// Run backfills every candidate on a worker pool.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{DryRun: opts.DryRun}

	candidates, err := r.Candidates(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.Total = len(candidates)
	if len(candidates) == 0 {
		r.logger.Info("No posts need backfill")
		return sum, nil
	}

	var topics []string
	if !opts.FullTextOnly {
		if topics, err = r.store.TopicNames(ctx); err != nil {
			return sum, fmt.Errorf("failed to load topics: %w", err)
		}
	}

	tasks := make([]worker.Task[PostResult], len(candidates))
	for i, c := range candidates {
		tasks[i] = worker.Task[PostResult]{
			ID: strconv.FormatInt(c.Post.ID, 10),
			Run: func(ctx context.Context) PostResult {
				return r.backfillOne(ctx, c, topics, opts)
			},
		}
	}

	pool := worker.NewManager(worker.Config{MaxWorkers: opts.Workers, TaskTimeout: opts.TaskTimeout}, r.logger)
	r.logger.Info("Backfilling posts",
		zap.Int("posts", len(candidates)),
		zap.Int("workers", pool.Workers(len(tasks))),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("full_text_only", opts.FullTextOnly))

	for out := range worker.Run(ctx, pool, tasks) {
		res := out.Value
		if out.Err != nil {
			c := candidates[out.Index]
			res = PostResult{PostID: c.Post.ID, Title: c.Post.Title, URL: c.Post.URL, Status: StatusError, Err: out.Err}
		}
		switch res.Status {
		case StatusSuccess:
			sum.Success++
		case StatusPartial:
			sum.Partial++
		default:
			sum.Errors++
		}
		if r.observer != nil && !opts.DryRun {
			r.observer.PostBackfilled(string(res.Status))
		}
		r.logger.Info("Post backfilled",
			zap.Int64("post_id", res.PostID),
			zap.String("status", string(res.Status)),
			zap.Strings("fields", res.Filled),
			zap.Error(res.Err))
		sum.Results = append(sum.Results, res)
	}

	r.logger.Info("Backfill finished",
		zap.Int("total", sum.Total),
		zap.Int("success", sum.Success),
		zap.Int("partial", sum.Partial),
		zap.Int("errors", sum.Errors))
	return sum, nil
}

// backfillOne derives only the fields the candidate is missing.
func (r *Runner) backfillOne(ctx context.Context, c store.Candidate, topics []string, opts Options) PostResult {
	p := c.Post
	res := PostResult{PostID: p.ID, Title: p.Title, URL: p.URL}

	text := enrichment.Result[string]{Value: p.FullText}
	if p.FullText == "" {
		fetched, err := r.enricher.FetchText(ctx, p.URL)
		if err != nil {
			res.Status, res.Err = StatusError, err
			return res
		}
		if !fetched.OK() {
			res.Status, res.Err = StatusError, fetched.Err
			return res
		}
		text = fetched
	}

	var (
		fields store.Fields
		names  []string
		errs   []error
		wanted int
		got    int
	)
	if c.NeedsText {
		fields.FullText = text.Value
		res.Filled = append(res.Filled, "full_text")
	}

	if !opts.FullTextOnly {
		density := p.TechnicalDensity
		if c.NeedsSummary {
			wanted++
			s := r.enricher.Summary(ctx, text)
			if s.OK() {
				got++
				fields.Summary, fields.Density = s.Value.Summary, s.Value.TechnicalDensity
				density = s.Value.TechnicalDensity
				res.Filled = append(res.Filled, "summary", "technical_density")
			} else {
				errs = append(errs, fmt.Errorf("summary: %w", s.Err))
			}
		}
		if c.NeedsReading {
			wanted++
			got++
			fields.ReadingTime = enrichment.ReadingTime(text.Value, density)
			res.Filled = append(res.Filled, "reading_time")
		}
		if c.NeedsTopics {
			wanted++
			t := r.enricher.Topics(ctx, text, topics)
			switch {
			case !t.OK():
				errs = append(errs, fmt.Errorf("topics: %w", t.Err))
			case len(t.Value.Matched)+len(t.Value.Suggestions) == 0:
				errs = append(errs, errors.New("topics: none matched"))
			default:
				got++
				names = append(append(names, t.Value.Matched...), t.Value.Suggestions...)
				res.Filled = append(res.Filled, "topics")
			}
		}
	}

	switch {
	case got == wanted:
		res.Status = StatusSuccess
	case got > 0 || c.NeedsText:
		res.Status = StatusPartial
	default:
		res.Status = StatusError
	}
	res.Err = errors.Join(errs...)

	if opts.DryRun {
		return res
	}
	if err := r.write(ctx, p.ID, fields, names); err != nil {
		res.Status, res.Err = StatusError, errors.Join(res.Err, err)
	}
	return res
}

func (r *Runner) write(ctx context.Context, postID int64, fields store.Fields, names []string) error {
	if !fields.Empty() {
		if _, err := r.store.FillMissing(ctx, postID, fields); err != nil {
			return err
		}
	}
	if len(names) == 0 {
		return nil
	}
	ids, err := r.store.EnsureTopics(ctx, names)
	if err != nil {
		return err
	}
	linked := make([]int64, 0, len(ids))
	for _, name := range names {
		if id, ok := ids[name]; ok {
			linked = append(linked, id)
		}
	}
	return r.store.LinkPostTopics(ctx, postID, linked)
}
