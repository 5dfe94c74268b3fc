// Package ingest checks sources for new posts: list, dedup, enrich in
// parallel, persist, and update source health.
package ingest

import (
	"context"
	"errors"
	"time"

	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/listing"
	"blog-monitor/pkg/schema"
	"blog-monitor/pkg/store"
)

var (
	// ErrSourceUnusable wraps the reason a check marked its source unusable
	ErrSourceUnusable = errors.New("source unusable")
	// ErrNoPosts is the structural failure of a listing that yields no post
	ErrNoPosts = errors.New("listing yielded no posts")
	// ErrTicketOpen refuses an explicit check of a source under a ticket
	ErrTicketOpen = errors.New("a ticket is open for this source")
)

// Lister extracts post stubs from a listing page
type Lister interface {
	Extract(ctx context.Context, pageURL string, s *schema.Schema) (listing.Listing, error)
}

// Enricher processes one new post
type Enricher interface {
	Process(ctx context.Context, stub domain.PostStub, topics []string) domain.ProcessingResult
}

// Store is the persistence the coordinator needs
type Store interface {
	GetSource(ctx context.Context, id int64) (domain.Source, error)
	ListSources(ctx context.Context, f store.SourceFilter) ([]domain.Source, error)
	OpenTicketFor(ctx context.Context, sourceID int64) (*domain.Ticket, error)
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
	TopicNames(ctx context.Context) ([]string, error)
	EnsureTopics(ctx context.Context, names []string) (map[string]int64, error)
	SavePost(ctx context.Context, sourceID int64, r domain.ProcessingResult) (int64, bool, error)
	LinkPostTopics(ctx context.Context, postID int64, topicIDs []int64) error
	UpdateSourceHealth(ctx context.Context, id int64, health domain.Health) error
	UpdateSourceLastChecked(ctx context.Context, id int64) error
}

// Observer receives check outcomes, typically a metrics recorder
type Observer interface {
	SourceChecked(src domain.Source, m domain.AggregateMetrics, elapsed time.Duration, err error)
	SourceDisabled(src domain.Source)
	CycleFinished(at time.Time, err error)
}

type nopObserver struct{}

func (nopObserver) SourceChecked(domain.Source, domain.AggregateMetrics, time.Duration, error) {}
func (nopObserver) SourceDisabled(domain.Source)                                               {}
func (nopObserver) CycleFinished(time.Time, error)                                             {}

// Config holds coordinator settings
type Config struct {
	MaxWorkers  int           // pool ceiling, default 8
	TaskTimeout time.Duration // per post, default 120s
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{MaxWorkers: 8, TaskTimeout: 120 * time.Second}
}
