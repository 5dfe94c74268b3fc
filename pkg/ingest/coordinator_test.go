package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-monitor/pkg/db"
	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/listing"
	"blog-monitor/pkg/schema"
	"blog-monitor/pkg/store"
)

const testSchema = `{"post_item_selector":"article","fields":{"title":{"selector":"h2"},"post_url":{"selector":"a"}}}`

type fakeLister struct {
	listing listing.Listing
	err     error
	calls   int
}

func (f *fakeLister) Extract(ctx context.Context, pageURL string, s *schema.Schema) (listing.Listing, error) {
	f.calls++
	return f.listing, f.err
}

// fakeEnricher returns canned results by URL; URLs in block never return
// before ctx is done.
type fakeEnricher struct {
	mu      sync.Mutex
	results map[string]domain.ProcessingResult
	block   map[string]bool
	seen    []string
}

func (f *fakeEnricher) Process(ctx context.Context, stub domain.PostStub, topics []string) domain.ProcessingResult {
	f.mu.Lock()
	f.seen = append(f.seen, stub.URL)
	f.mu.Unlock()

	if f.block[stub.URL] {
		<-ctx.Done()
		return domain.NewProcessingResult(stub)
	}
	if r, ok := f.results[stub.URL]; ok {
		r.Stub = stub
		return r
	}
	r := domain.NewProcessingResult(stub)
	r.Summary, r.Density, r.ReadingTime, r.Topics = "summary", 2, 3, []string{"go"}
	return r
}

type countingObserver struct {
	checked  int
	disabled int
	cycles   int
}

func (o *countingObserver) SourceChecked(domain.Source, domain.AggregateMetrics, time.Duration, error) {
	o.checked++
}
func (o *countingObserver) SourceDisabled(domain.Source)   { o.disabled++ }
func (o *countingObserver) CycleFinished(time.Time, error) { o.cycles++ }

type fixture struct {
	store    *store.Store
	lister   *fakeLister
	enricher *fakeEnricher
	observer *countingObserver
	coord    *Coordinator
	source   domain.Source
}

func newFixture(t *testing.T, stubs ...domain.PostStub) *fixture {
	t.Helper()
	ctx := context.Background()
	p, err := db.Open(ctx, db.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	s := store.New(p)
	require.NoError(t, s.Migrate(ctx))

	id, err := s.CreateSource(ctx, domain.Source{
		Name:   "Blog",
		URL:    "https://blog.example.com",
		Schema: []byte(testSchema),
		Health: domain.Usable,
	})
	require.NoError(t, err)
	src, err := s.GetSource(ctx, id)
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		lister:   &fakeLister{listing: listing.Listing{Stubs: stubs, Matched: len(stubs)}},
		enricher: &fakeEnricher{results: map[string]domain.ProcessingResult{}, block: map[string]bool{}},
		observer: &countingObserver{},
		source:   src,
	}
	f.coord = NewCoordinator(Config{MaxWorkers: 4, TaskTimeout: 100 * time.Millisecond}, Dependencies{
		Store:    s,
		Lister:   f.lister,
		Enricher: f.enricher,
		Observer: f.observer,
	}, nil)
	return f
}

func stub(path string) domain.PostStub {
	return domain.PostStub{Title: "Post " + path, URL: "https://blog.example.com" + path}
}

func (f *fixture) health(t *testing.T) domain.Health {
	t.Helper()
	src, err := f.store.GetSource(context.Background(), f.source.ID)
	require.NoError(t, err)
	return src.Health
}

func TestCheckSource_PersistsNewPosts(t *testing.T) {
	f := newFixture(t, stub("/a"), stub("/b"), stub("/c"))

	partial := domain.NewProcessingResult(domain.PostStub{})
	partial.NewTopics = []string{"databases"}
	partial.ErrorType = domain.ErrorInference
	f.enricher.results["https://blog.example.com/b"] = partial

	network := domain.NewProcessingResult(domain.PostStub{})
	network.ErrorType = domain.ErrorNetwork
	f.enricher.results["https://blog.example.com/c"] = network

	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NewPostsFound)
	assert.Equal(t, 1, m.FullSuccess)
	assert.Equal(t, 1, m.PartialSuccess)
	assert.Equal(t, 1, m.NetworkErrors)
	assert.Equal(t, 1, m.MissingSummary)
	assert.Equal(t, 1, m.MissingReadingTime)
	assert.Equal(t, 0, m.MissingTopics)
	assert.Equal(t, 2, m.PostsSaved)

	posts, err := f.store.ListPosts(context.Background(), f.source.ID, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	names, err := f.store.TopicNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"databases", "go"}, names)

	src, err := f.store.GetSource(context.Background(), f.source.ID)
	require.NoError(t, err)
	assert.True(t, src.IsUsable())
	assert.NotNil(t, src.LastCheckedAt)
	assert.Equal(t, 1, f.observer.checked)
}

func TestCheckSource_RerunFindsNothingNew(t *testing.T) {
	f := newFixture(t, stub("/a"), stub("/b"))
	ctx := context.Background()

	_, err := f.coord.CheckSource(ctx, f.source)
	require.NoError(t, err)

	// Same posts under another spelling of the URL.
	f.lister.listing.Stubs = []domain.PostStub{
		{Title: "A", URL: "http://www.blog.example.com/a/"},
		stub("/b"),
	}
	m, err := f.coord.CheckSource(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, domain.AggregateMetrics{}, m)
	assert.Len(t, f.enricher.seen, 2)
	assert.Equal(t, domain.Usable, f.health(t))
}

func TestCheckSource_DuplicateStubsInOneListing(t *testing.T) {
	f := newFixture(t, stub("/a"), stub("/a/"), stub("/a#comments"))
	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NewPostsFound)
}

func TestCheckSource_FetchFailureDisables(t *testing.T) {
	f := newFixture(t)
	f.lister.err = errors.New("connection refused")

	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnusable)
	assert.Equal(t, domain.AggregateMetrics{}, m)
	assert.Equal(t, domain.Unusable, f.health(t))
	assert.Equal(t, 1, f.observer.disabled)
	assert.Empty(t, f.enricher.seen)
}

func TestCheckSource_EmptyListingDisables(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CheckSource(context.Background(), f.source)
	assert.ErrorIs(t, err, ErrNoPosts)
	assert.ErrorIs(t, err, ErrSourceUnusable)
	assert.Equal(t, domain.Unusable, f.health(t))
}

func TestCheckSource_MalformedSchemaDisables(t *testing.T) {
	f := newFixture(t, stub("/a"))
	f.source.Schema = []byte(`{"fields":{}}`)

	_, err := f.coord.CheckSource(context.Background(), f.source)
	assert.ErrorIs(t, err, schema.ErrMalformed)
	assert.ErrorIs(t, err, ErrSourceUnusable)
	assert.Equal(t, 0, f.lister.calls)
	assert.Equal(t, domain.Unusable, f.health(t))
}

func TestCheckSource_TimeoutDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, stub("/slow"), stub("/a"), stub("/b"))
	f.enricher.block["https://blog.example.com/slow"] = true

	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NewPostsFound)
	assert.Equal(t, 2, m.FullSuccess)
	assert.Equal(t, 1, m.Timeouts)
	assert.Equal(t, 1, m.MissingSummary)
	assert.Equal(t, 2, m.PostsSaved)
}

type panicEnricher struct{}

func (panicEnricher) Process(context.Context, domain.PostStub, []string) domain.ProcessingResult {
	panic("boom")
}

func TestCheckSource_TaskPanicIsContained(t *testing.T) {
	f := newFixture(t, stub("/a"))
	f.coord.deps.Enricher = panicEnricher{}

	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NewPostsFound)
	assert.Equal(t, 0, m.PostsSaved)
	assert.Equal(t, 1, m.MissingTopics)
}

type panicLister struct{}

func (panicLister) Extract(context.Context, string, *schema.Schema) (listing.Listing, error) {
	panic("listing exploded")
}

func TestCheckAll_RecoversPerSource(t *testing.T) {
	f := newFixture(t, stub("/a"))
	ctx := context.Background()

	_, err := f.store.CreateSource(ctx, domain.Source{
		URL:    "https://other.example.com",
		Schema: []byte(testSchema),
		Health: domain.Usable,
	})
	require.NoError(t, err)
	f.coord.deps.Lister = panicLister{}

	res := f.coord.CheckAll(ctx, nil)
	require.NoError(t, res.Err)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 0, res.Disabled)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, f.observer.cycles)
}

func TestCheckAll_SkipsUnusableAndTicketed(t *testing.T) {
	f := newFixture(t, stub("/a"))
	ctx := context.Background()

	unusable, err := f.store.CreateSource(ctx, domain.Source{URL: "https://u.example.com", Schema: []byte(testSchema)})
	require.NoError(t, err)
	ticketed, err := f.store.CreateSource(ctx, domain.Source{URL: "https://t.example.com", Schema: []byte(testSchema), Health: domain.Usable})
	require.NoError(t, err)
	_, err = f.store.OpenTicket(ctx, ticketed, "broken", "ops")
	require.NoError(t, err)

	res := f.coord.CheckAll(ctx, nil)
	require.NoError(t, res.Err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, f.source.ID, res.Sources[0].SourceID)
	assert.Equal(t, 1, res.Totals.NewPostsFound)

	// An explicit id is checked whatever its health.
	res = f.coord.CheckAll(ctx, &unusable)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, unusable, res.Sources[0].SourceID)
}

func TestCheckAll_ExplicitIDWithOpenTicketIsRefused(t *testing.T) {
	f := newFixture(t, stub("/a"))
	ctx := context.Background()

	_, err := f.store.OpenTicket(ctx, f.source.ID, "layout changed", "ops")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateSourceHealth(ctx, f.source.ID, domain.Unusable))

	id := f.source.ID
	res := f.coord.CheckAll(ctx, &id)
	assert.ErrorIs(t, res.Err, ErrTicketOpen)
	assert.Empty(t, res.Sources)
	assert.Equal(t, domain.Unusable, f.health(t))
	assert.Zero(t, f.lister.calls)
	assert.Empty(t, f.enricher.seen)

	posts, err := f.store.ListPosts(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestCheckSource_ExtractionFailuresCountedSeparately(t *testing.T) {
	f := newFixture(t, stub("/a"), stub("/short"))
	noText := domain.NewProcessingResult(stub("/short"))
	noText.ErrorType = domain.ErrorExtraction
	noText.Err = errors.New("extraction: text too short")
	f.enricher.results["https://blog.example.com/short"] = noText
	ctx := context.Background()

	m, err := f.coord.CheckSource(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NewPostsFound)
	assert.Equal(t, 1, m.ExtractionFailures)
	assert.Equal(t, 1, m.PostsSaved)

	// Nothing was stored for the short post, so it is retried and stays
	// visible as an extraction failure rather than a silent new post.
	m, err = f.coord.CheckSource(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NewPostsFound)
	assert.Equal(t, 1, m.ExtractionFailures)
	assert.Zero(t, m.PostsSaved)
}

func TestCheckSource_DropsSiteRootLinks(t *testing.T) {
	f := newFixture(t, stub("/"), domain.PostStub{Title: "Home", URL: "https://blog.example.com"}, stub("/a"), stub("/a/"))
	m, err := f.coord.CheckSource(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NewPostsFound)
	assert.Equal(t, []string{"https://blog.example.com/a"}, f.enricher.seen)
}

func TestCheckAll_CountsDisabledSources(t *testing.T) {
	f := newFixture(t)
	f.lister.err = errors.New("dns failure")

	res := f.coord.CheckAll(context.Background(), nil)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Disabled)
	assert.True(t, res.Sources[0].Disabled)
}

func TestCheckAll_UnknownSource(t *testing.T) {
	f := newFixture(t)
	missing := int64(999)
	res := f.coord.CheckAll(context.Background(), &missing)
	assert.ErrorIs(t, res.Err, store.ErrNotFound)
}
