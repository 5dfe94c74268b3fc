package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/lock"
	"blog-monitor/pkg/schema"
	"blog-monitor/pkg/store"
	"blog-monitor/pkg/urls"
	"blog-monitor/pkg/worker"
)

// Dependencies are the collaborators of a Coordinator. Locker and
// Observer are optional.
type Dependencies struct {
	Store    Store
	Lister   Lister
	Enricher Enricher
	Locker   lock.Locker
	Observer Observer
}

// Coordinator runs source checks
type Coordinator struct {
	deps   Dependencies
	pool   *worker.Manager
	logger *zap.Logger
}

// NewCoordinator creates a new coordinator
func NewCoordinator(cfg Config, deps Dependencies, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	logger = logger.With(zap.String("component", "ingest"))
	return &Coordinator{
		deps: deps,
		pool: worker.NewManager(worker.Config{
			MaxWorkers:  cfg.MaxWorkers,
			TaskTimeout: cfg.TaskTimeout,
		}, logger),
		logger: logger,
	}
}

// CheckSource lists the source, enriches every post not stored yet and
// persists the results. A listing that cannot be fetched or parsed marks the
// source unusable and returns an error wrapping ErrSourceUnusable with zero
// metrics. Post-level failures only show up in the metrics.
func (c *Coordinator) CheckSource(ctx context.Context, src domain.Source) (m domain.AggregateMetrics, err error) {
	log := c.logger.With(zap.Int64("source_id", src.ID), zap.String("source_url", src.URL))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Source check panicked", zap.Any("panic", r), zap.Stack("stack"))
			m = domain.AggregateMetrics{}
			err = fmt.Errorf("source %d check panicked: %v", src.ID, r)
		}
		c.deps.Observer.SourceChecked(src, m, time.Since(start), err)
	}()

	unlock, err := c.deps.Locker.Lock(ctx, fmt.Sprintf("source:%d", src.ID))
	if err != nil {
		return m, fmt.Errorf("failed to lock source %d: %w", src.ID, err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			log.Warn("Failed to release source lock", zap.Error(uerr))
		}
	}()

	s, err := schema.Parse(src.Schema)
	if err != nil {
		return m, c.disable(ctx, src, log, err)
	}
	lst, err := c.deps.Lister.Extract(ctx, src.URL, s)
	if err != nil {
		return m, c.disable(ctx, src, log, fmt.Errorf("failed to fetch listing: %w", err))
	}
	if lst.Empty() {
		return m, c.disable(ctx, src, log, fmt.Errorf("%w (%d items matched)", ErrNoPosts, lst.Matched))
	}

	fresh, err := c.newStubs(ctx, lst.Stubs)
	if err != nil {
		return m, err
	}
	m.NewPostsFound = len(fresh)
	log.Info("Found posts", zap.Int("new_posts", len(fresh)), zap.Int("total_posts", len(lst.Stubs)))

	if len(fresh) > 0 {
		topics, err := c.deps.Store.TopicNames(ctx)
		if err != nil {
			return m, fmt.Errorf("failed to load topics: %w", err)
		}
		results := c.enrich(ctx, fresh, topics, &m, log)
		c.persist(ctx, src, results, &m, log)
	}

	if err := c.deps.Store.UpdateSourceHealth(ctx, src.ID, domain.Usable); err != nil {
		return m, err
	}
	if err := c.deps.Store.UpdateSourceLastChecked(ctx, src.ID); err != nil {
		return m, err
	}
	log.Info("Source checked",
		zap.Int("new_posts", m.NewPostsFound),
		zap.Int("full_success", m.FullSuccess),
		zap.Int("partial_success", m.PartialSuccess),
		zap.Int("network_errors", m.NetworkErrors),
		zap.Int("timeouts", m.Timeouts),
		zap.Int("extraction_failures", m.ExtractionFailures),
		zap.Int("posts_saved", m.PostsSaved),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// disable marks the source unusable after a list-level failure.
func (c *Coordinator) disable(ctx context.Context, src domain.Source, log *zap.Logger, cause error) error {
	log.Warn("Listing failed, marking source unusable", zap.Error(cause))
	err := fmt.Errorf("%w: %w", ErrSourceUnusable, cause)
	if uerr := c.deps.Store.UpdateSourceHealth(ctx, src.ID, domain.Unusable); uerr != nil {
		return errors.Join(err, uerr)
	}
	if uerr := c.deps.Store.UpdateSourceLastChecked(ctx, src.ID); uerr != nil {
		return errors.Join(err, uerr)
	}
	if src.IsUsable() {
		c.deps.Observer.SourceDisabled(src)
	}
	return err
}

// newStubs drops links to a site root and stubs whose URL key is already
// stored or repeated.
func (c *Coordinator) newStubs(ctx context.Context, stubs []domain.PostStub) ([]domain.PostStub, error) {
	links := make([]string, 0, len(stubs))
	keys := make([]string, 0, len(stubs))
	for _, stub := range stubs {
		links = append(links, stub.URL)
		if key, err := urls.Key(stub.URL); err == nil {
			keys = append(keys, key)
		}
	}
	existing, err := c.deps.Store.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	kept, err := urls.Apply(ctx, links, urls.NewBaseURLFilter(), urls.NewKnownFilter(existing))
	if err != nil {
		return nil, err
	}
	remaining := make(map[string]int, len(kept))
	for _, u := range kept {
		remaining[u]++
	}
	fresh := make([]domain.PostStub, 0, len(kept))
	for _, stub := range stubs {
		if remaining[stub.URL] > 0 {
			remaining[stub.URL]--
			fresh = append(fresh, stub)
		}
	}
	return fresh, nil
}

// enrich fans the stubs out to the worker pool and gathers results as they
// complete. A task that times out or panics still yields a result.
func (c *Coordinator) enrich(ctx context.Context, stubs []domain.PostStub, topics []string, m *domain.AggregateMetrics, log *zap.Logger) []domain.ProcessingResult {
	tasks := make([]worker.Task[domain.ProcessingResult], len(stubs))
	for i, stub := range stubs {
		tasks[i] = worker.Task[domain.ProcessingResult]{
			ID: stub.URL,
			Run: func(ctx context.Context) domain.ProcessingResult {
				return c.deps.Enricher.Process(ctx, stub, topics)
			},
		}
	}

	log.Info("Processing new posts", zap.Int("workers", c.pool.Workers(len(tasks))))
	results := make([]domain.ProcessingResult, 0, len(tasks))
	for out := range worker.Run(ctx, c.pool, tasks) {
		res := out.Value
		if out.Err != nil {
			res = domain.NewProcessingResult(stubs[out.Index])
			res.Err = out.Err
			res.ErrorType = domain.ErrorInference
			if out.TimedOut || errors.Is(out.Err, context.DeadlineExceeded) || errors.Is(out.Err, context.Canceled) {
				res.ErrorType = domain.ErrorTimeout
			}
			log.Warn("Post processing did not finish",
				zap.String("post_url", out.ID),
				zap.Bool("timed_out", out.TimedOut),
				zap.Error(out.Err))
		}
		m.Observe(res)
		results = append(results, res)
	}
	return results
}

// persist inserts every result with at least one derived field. Topic names
// of the whole batch are created once before any post is linked.
func (c *Coordinator) persist(ctx context.Context, src domain.Source, results []domain.ProcessingResult, m *domain.AggregateMetrics, log *zap.Logger) {
	var names []string
	for _, r := range results {
		if r.Persistable() {
			names = append(names, r.AllTopics()...)
		}
	}
	topicIDs, err := c.deps.Store.EnsureTopics(ctx, names)
	if err != nil {
		log.Error("Failed to create topics, posts are saved without topics", zap.Error(err))
		topicIDs = nil
	}

	for _, r := range results {
		if !r.Persistable() {
			if r.ErrorType == domain.ErrorExtraction {
				log.Info("Post has no usable text, not saved", zap.String("post_url", r.Stub.URL), zap.Error(r.Err))
			}
			continue
		}
		postID, _, err := c.deps.Store.SavePost(ctx, src.ID, r)
		if err != nil {
			log.Error("Failed to save post", zap.String("post_url", r.Stub.URL), zap.Error(err))
			continue
		}
		m.PostsSaved++

		ids := make([]int64, 0, len(r.Topics)+len(r.NewTopics))
		for _, name := range r.AllTopics() {
			if id, ok := topicIDs[name]; ok {
				ids = append(ids, id)
			}
		}
		if err := c.deps.Store.LinkPostTopics(ctx, postID, ids); err != nil {
			log.Error("Failed to link topics", zap.String("post_url", r.Stub.URL), zap.Error(err))
		}
	}
}

// SourceResult is the outcome of one source within a cycle
type SourceResult struct {
	SourceID int64
	Name     string
	URL      string
	Metrics  domain.AggregateMetrics
	Disabled bool
	Err      error
}

// CycleResult summarizes a check cycle
type CycleResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceResult
	Totals     domain.AggregateMetrics
	Failed     int
	Disabled   int
	// Err is set when the cycle could not run at all, e.g. sources failed to load.
	Err error
}

// CheckAll checks every usable source without an open ticket, one after
// another. With sourceID set only that source is checked, whatever its
// health, unless a ticket is open for it: the cycle then fails with
// ErrTicketOpen and the source is left untouched.
func (c *Coordinator) CheckAll(ctx context.Context, sourceID *int64) CycleResult {
	res := CycleResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := c.logger.With(zap.String("run_id", res.RunID))
	defer func() {
		res.FinishedAt = time.Now().UTC()
		c.deps.Observer.CycleFinished(res.FinishedAt, res.Err)
	}()

	sources, err := c.sources(ctx, sourceID)
	if err != nil {
		res.Err = err
		log.Error("Failed to load sources", zap.Error(err))
		return res
	}
	log.Info("Starting check cycle", zap.Int("sources", len(sources)))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		m, err := c.CheckSource(ctx, src)
		sr := SourceResult{SourceID: src.ID, Name: src.Name, URL: src.URL, Metrics: m, Err: err}
		if err != nil {
			res.Failed++
			if errors.Is(err, ErrSourceUnusable) && src.IsUsable() {
				sr.Disabled = true
				res.Disabled++
			}
			log.Error("Source check failed",
				zap.Int64("source_id", src.ID),
				zap.String("source_url", src.URL),
				zap.Error(err))
		}
		res.Totals.Add(m)
		res.Sources = append(res.Sources, sr)
	}

	t := res.Totals
	log.Info("Check cycle finished",
		zap.Int("sources", len(res.Sources)),
		zap.Int("new_posts", t.NewPostsFound),
		zap.Int("full_success", t.FullSuccess),
		zap.Int("partial_success", t.PartialSuccess),
		zap.Int("network_errors", t.NetworkErrors),
		zap.Int("timeouts", t.Timeouts),
		zap.Int("missing_summary", t.MissingSummary),
		zap.Int("missing_reading_time", t.MissingReadingTime),
		zap.Int("missing_topics", t.MissingTopics),
		zap.Int("extraction_failures", t.ExtractionFailures),
		zap.Int("sources_disabled", res.Disabled),
		zap.Int("sources_failed", res.Failed))
	return res
}

func (c *Coordinator) sources(ctx context.Context, sourceID *int64) ([]domain.Source, error) {
	if sourceID != nil {
		src, err := c.deps.Store.GetSource(ctx, *sourceID)
		if err != nil {
			return nil, err
		}
		t, err := c.deps.Store.OpenTicketFor(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up tickets of source %d: %w", src.ID, err)
		}
		if t != nil {
			return nil, fmt.Errorf("%w: source %d has ticket %d", ErrTicketOpen, src.ID, t.ID)
		}
		return []domain.Source{src}, nil
	}
	return c.deps.Store.ListSources(ctx, store.SourceFilter{UsableOnly: true, ExcludeTicketed: true})
}
