package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-monitor/pkg/db"
	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/inference"
	"blog-monitor/pkg/listing"
	"blog-monitor/pkg/store"
)

const (
	blogURL = "https://blog.example.com/"

	listingPage = `<html><head><title>Eng Blog</title>
<link rel="alternate" type="application/rss+xml" href="/feed.xml"></head>
<body>
<div class="post"><h2>First</h2><a href="/p/1">read</a></div>
<div class="post"><h2>Second</h2><a href="/p/2">read</a></div>
<script>var tracking = true;</script>
</body></html>`

	goodSchema = `{"post_item_selector":"div.post","fields":{"title":{"selector":"h2"},"post_url":{"selector":"a"}}}`
	badSchema  = `{"post_item_selector":"li.entry","fields":{"title":{"selector":"h3"},"post_url":{"selector":"a"}}}`
)

type pages map[string]string

func (p pages) Fetch(ctx context.Context, url string) (int, []byte, error) {
	body, ok := p[url]
	if !ok {
		return 0, nil, &httpclient.FetchError{URL: url, Attempts: 1, Err: errors.New("unreachable")}
	}
	return 200, []byte(body), nil
}

type schemaInferrer struct {
	mu       sync.Mutex
	generate string
	refine   string
	calls    map[string]int
	prompts  []string
}

func (s *schemaInferrer) Infer(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Operation]++
	s.prompts = append(s.prompts, req.Prompt)
	switch req.Operation {
	case "generate schema":
		return json.RawMessage(s.generate), nil
	case "refine schema":
		return json.RawMessage(s.refine), nil
	}
	return nil, errors.New("unexpected operation " + req.Operation)
}

type fixture struct {
	store *store.Store
	infer *schemaInferrer
	mgr   *Manager
	now   time.Time
}

func newFixture(t *testing.T, generated string) *fixture {
	t.Helper()
	ctx := context.Background()
	p, err := db.Open(ctx, db.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	s := store.New(p)
	require.NoError(t, s.Migrate(ctx))

	f := &fixture{
		store: s,
		infer: &schemaInferrer{generate: generated, refine: goodSchema, calls: map[string]int{}},
		now:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	s.SetClock(func() time.Time { return f.now })

	fetcher := pages{blogURL: listingPage}
	f.mgr = NewManager(Config{}, s, fetcher, listing.NewExtractor(fetcher, nil), f.infer, nil)
	f.mgr.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) propose(t *testing.T) domain.Source {
	t.Helper()
	p, err := f.mgr.Propose(context.Background(), blogURL, "alice")
	require.NoError(t, err)
	return p.Source
}

func TestPropose(t *testing.T) {
	f := newFixture(t, goodSchema)
	p, err := f.mgr.Propose(context.Background(), blogURL, "alice")
	require.NoError(t, err)

	require.NotNil(t, p.Schema)
	assert.NoError(t, p.SchemaErr)
	require.Len(t, p.Posts, 2)
	assert.Equal(t, "https://blog.example.com/p/1", p.Posts[0].URL)

	src := p.Source
	assert.NotZero(t, src.ID)
	assert.NotEmpty(t, src.Name)
	assert.Equal(t, domain.Unusable, src.Health)
	assert.True(t, src.SchemaValidated)
	assert.Equal(t, "alice", src.LastModifiedBy)
	assert.Equal(t, "https://blog.example.com/feed.xml", src.FeedURL)
	assert.JSONEq(t, goodSchema, string(src.Schema))

	require.Len(t, f.infer.prompts, 1)
	assert.NotContains(t, f.infer.prompts[0], "tracking", "scripts are stripped from the prompt body")
}

func TestPropose_Rejects(t *testing.T) {
	f := newFixture(t, goodSchema)
	f.propose(t)

	_, err := f.mgr.Propose(context.Background(), "http://www.Blog.example.com/archive", "bob")
	assert.ErrorIs(t, err, store.ErrDuplicateSource)

	_, err = f.mgr.Propose(context.Background(), "ftp://blog.example.org", "bob")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = f.mgr.Propose(context.Background(), "https://down.example.org", "bob")
	assert.True(t, httpclient.IsFetchError(err))

	assert.Equal(t, 1, f.infer.calls["generate schema"])
}

func TestPropose_UnusableSchemaIsStoredUnvalidated(t *testing.T) {
	f := newFixture(t, badSchema)
	p, err := f.mgr.Propose(context.Background(), blogURL, "alice")
	require.NoError(t, err)
	assert.Error(t, p.SchemaErr)
	assert.Empty(t, p.Posts)
	assert.False(t, p.Source.SchemaValidated)

	_, err = f.mgr.Confirm(context.Background(), p.Source.ID, "alice")
	assert.ErrorIs(t, err, ErrNotValidated)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, goodSchema)
	src := f.propose(t)
	ctx := context.Background()

	_, err := f.mgr.Confirm(ctx, src.ID, "bob")
	assert.ErrorIs(t, err, ErrNotPermitted)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.mgr.Confirm(ctx, src.ID, "alice")
	assert.ErrorIs(t, err, ErrConfirmWindow)

	f.now = f.now.Add(-2 * time.Hour)
	confirmed, err := f.mgr.Confirm(ctx, src.ID, "alice")
	require.NoError(t, err)
	assert.True(t, confirmed.IsUsable())

	stored, err := f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsUsable())
}

func TestConfirm_BlockedByTicket(t *testing.T) {
	f := newFixture(t, goodSchema)
	src := f.propose(t)
	ctx := context.Background()

	_, err := f.mgr.OpenTicket(ctx, src.ID, "alice", "dates look wrong")
	require.NoError(t, err)
	_, err = f.mgr.Confirm(ctx, src.ID, "alice")
	assert.ErrorIs(t, err, ErrTicketOpen)
}

func TestRefine_LimitAndApply(t *testing.T) {
	f := newFixture(t, badSchema)
	src := f.propose(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p, err := f.mgr.Refine(ctx, src.ID, "bob", "titles are in h2")
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, i, p.Source.RefinementAttempts)
		assert.Len(t, p.Posts, 2)
		assert.JSONEq(t, badSchema, string(p.Source.Schema), "current schema is untouched")
		assert.JSONEq(t, goodSchema, string(p.Source.ProposedSchema))
	}

	_, err := f.mgr.Refine(ctx, src.ID, "bob", "anything at all")
	assert.ErrorIs(t, err, ErrRefinementLimit)
	assert.Equal(t, 3, f.infer.calls["refine schema"])

	_, err = f.mgr.ApplyRefinement(ctx, src.ID, "alice")
	assert.ErrorIs(t, err, ErrNotPermitted)

	p, err := f.mgr.ApplyRefinement(ctx, src.ID, "bob")
	require.NoError(t, err)
	assert.JSONEq(t, goodSchema, string(p.Source.Schema))
	assert.Nil(t, p.Source.ProposedSchema)
	assert.True(t, p.Source.SchemaValidated)

	_, err = f.mgr.ApplyRefinement(ctx, src.ID, "bob")
	assert.ErrorIs(t, err, ErrNoProposal)

	confirmed, err := f.mgr.Confirm(ctx, src.ID, "bob")
	require.NoError(t, err)
	assert.True(t, confirmed.IsUsable())

	_, err = f.mgr.Refine(ctx, src.ID, "bob", "more")
	assert.ErrorIs(t, err, ErrSourceUsable)
}

func TestRefine_PromptCarriesPreviousResultsAndFeedback(t *testing.T) {
	f := newFixture(t, goodSchema)
	src := f.propose(t)
	ctx := context.Background()

	_, err := f.mgr.Refine(ctx, src.ID, "alice", "dates are missing")
	require.NoError(t, err)
	prompt := f.infer.prompts[len(f.infer.prompts)-1]
	assert.Contains(t, prompt, "dates are missing")
	assert.Contains(t, prompt, "1. First")
}

func TestTicket_FreezesUntilResolved(t *testing.T) {
	f := newFixture(t, goodSchema)
	src := f.propose(t)
	ctx := context.Background()

	_, err := f.mgr.Confirm(ctx, src.ID, "alice")
	require.NoError(t, err)

	ticketID, err := f.mgr.OpenTicket(ctx, src.ID, "carol", "posts missing")
	require.NoError(t, err)
	stored, err := f.store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsUsable())
	assert.Equal(t, "carol", stored.LastModifiedBy)

	_, err = f.mgr.Refine(ctx, src.ID, "carol", "fix it")
	assert.ErrorIs(t, err, ErrTicketOpen)

	ticket, err := f.mgr.ResolveTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.False(t, ticket.Open())

	_, err = f.mgr.Refine(ctx, src.ID, "carol", "fix it")
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	f := newFixture(t, badSchema)
	src := f.propose(t)

	p, err := f.mgr.Validate(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Error(t, p.SchemaErr)
	assert.False(t, p.Source.SchemaValidated)
	assert.Equal(t, "alice", p.Source.LastModifiedBy)
}

func TestBodyHTML(t *testing.T) {
	body := BodyHTML([]byte(listingPage))
	assert.Contains(t, body, `<div class="post">`)
	assert.NotContains(t, body, "<script")
	assert.NotContains(t, body, "<title>")
}
