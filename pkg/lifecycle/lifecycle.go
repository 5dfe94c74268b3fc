// Package lifecycle manages how a source's extraction schema is proposed,
// refined, confirmed and escalated.
//
// A new source starts unusable with a generated schema. The actor who last
// modified it may confirm it within the confirmation window, which makes it
// usable. While unusable, a limited number of refinements may be requested;
// each produces a proposed schema that the same actor applies. A ticket can
// be opened at any time; it makes the source unusable and freezes refinement
// and confirmation until resolved.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/inference"
	"blog-monitor/pkg/listing"
	"blog-monitor/pkg/schema"
	"blog-monitor/pkg/store"
)

var (
	ErrNotPermitted    = errors.New("not permitted for this actor")
	ErrConfirmWindow   = errors.New("confirmation window has passed")
	ErrTicketOpen      = errors.New("a ticket is open for this source")
	ErrRefinementLimit = errors.New("refinement limit reached, open a ticket")
	ErrNoProposal      = errors.New("no proposed schema to apply")
	ErrSourceUsable    = errors.New("source has a working schema")
	ErrNotValidated    = errors.New("schema has not produced any posts")
	ErrInvalidURL      = errors.New("source URL must be absolute http(s)")
)

// Store is the persistence lifecycle transitions need
type Store interface {
	CreateSource(ctx context.Context, src domain.Source) (int64, error)
	GetSource(ctx context.Context, id int64) (domain.Source, error)
	ListSources(ctx context.Context, f store.SourceFilter) ([]domain.Source, error)
	SaveSource(ctx context.Context, src domain.Source) (domain.Source, error)
	SetSchemaValidated(ctx context.Context, id int64, ok bool) error
	UpdateSourceHealth(ctx context.Context, id int64, health domain.Health) error
	OpenTicket(ctx context.Context, sourceID int64, message, actor string) (int64, error)
	ResolveTicket(ctx context.Context, id int64) (domain.Ticket, error)
	OpenTicketFor(ctx context.Context, sourceID int64) (*domain.Ticket, error)
}

// Lister extracts stubs from a listing page
type Lister interface {
	Extract(ctx context.Context, pageURL string, s *schema.Schema) (listing.Listing, error)
}

// Config holds lifecycle limits
type Config struct {
	MaxRefinements int           // default 3
	ConfirmWindow  time.Duration // default 24h
}

// Proposal is a schema together with what it extracts
type Proposal struct {
	Source domain.Source
	Schema *schema.Schema // nil when the generated schema is malformed
	Posts  []domain.PostStub
	// SchemaErr explains why Schema is nil or produced nothing.
	SchemaErr error
}

// Manager executes lifecycle transitions
type Manager struct {
	cfg      Config
	store    Store
	fetcher  httpclient.Fetcher
	lister   Lister
	inferrer inference.Inferrer
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a new lifecycle manager
func NewManager(cfg Config, st Store, fetcher httpclient.Fetcher, lister Lister, inferrer inference.Inferrer, logger *zap.Logger) *Manager {
	if cfg.MaxRefinements <= 0 {
		cfg.MaxRefinements = 3
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		lister:   lister,
		inferrer: inferrer,
		logger:   logger.With(zap.String("component", "lifecycle")),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for the confirmation window.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Propose registers pageURL with a generated schema and validates it once.
// The source starts unusable until confirmed.
func (m *Manager) Propose(ctx context.Context, pageURL, actor string) (Proposal, error) {
	pageURL = strings.TrimSpace(pageURL)
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Proposal{}, fmt.Errorf("%w: %q", ErrInvalidURL, pageURL)
	}
	if err := m.checkDuplicate(ctx, u); err != nil {
		return Proposal{}, err
	}

	_, page, err := m.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	raw, err := inference.GenerateSchema(ctx, m.inferrer, pageURL, BodyHTML(page))
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to generate schema: %w", err)
	}

	src := domain.Source{
		Name:           sourceName(page, u),
		URL:            pageURL,
		Schema:         raw,
		FeedURL:        listing.FeedLink(pageURL, page),
		Health:         domain.Unusable,
		LastModifiedBy: actor,
	}
	p := m.trySchema(ctx, pageURL, raw)
	src.SchemaValidated = p.SchemaErr == nil

	id, err := m.store.CreateSource(ctx, src)
	if err != nil {
		return Proposal{}, err
	}
	if p.Source, err = m.store.GetSource(ctx, id); err != nil {
		return Proposal{}, err
	}

	m.logger.Info("Source proposed",
		zap.Int64("source_id", id),
		zap.String("source_url", pageURL),
		zap.Int("posts", len(p.Posts)),
		zap.String("feed_url", src.FeedURL),
		zap.Error(p.SchemaErr))
	return p, nil
}

// checkDuplicate rejects a URL whose host is already registered.
func (m *Manager) checkDuplicate(ctx context.Context, u *url.URL) error {
	host := normalizedHost(u)
	sources, err := m.store.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		return err
	}
	for _, s := range sources {
		existing, err := url.Parse(s.URL)
		if err != nil {
			continue
		}
		if normalizedHost(existing) == host {
			return fmt.Errorf("%w: %s is registered as source %d", store.ErrDuplicateSource, host, s.ID)
		}
	}
	return nil
}

func normalizedHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Validate runs the current schema against the listing page and records
// whether it produced posts.
func (m *Manager) Validate(ctx context.Context, id int64) (Proposal, error) {
	src, err := m.store.GetSource(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	p := m.trySchema(ctx, src.URL, src.Schema)
	if err := m.store.SetSchemaValidated(ctx, id, p.SchemaErr == nil); err != nil {
		return Proposal{}, err
	}
	src.SchemaValidated = p.SchemaErr == nil
	p.Source = src
	return p, nil
}

// Confirm marks the source usable. Only the actor who last modified the
// source may confirm, within the window after that modification, with no
// open ticket and a schema that produced posts.
func (m *Manager) Confirm(ctx context.Context, id int64, actor string) (domain.Source, error) {
	src, err := m.store.GetSource(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}
	if src.LastModifiedBy != actor {
		return domain.Source{}, fmt.Errorf("%w: last modified by %q", ErrNotPermitted, src.LastModifiedBy)
	}
	if age := m.now().Sub(src.LastModifiedAt); age >= m.cfg.ConfirmWindow {
		return domain.Source{}, fmt.Errorf("%w: modified %s ago", ErrConfirmWindow, age.Truncate(time.Minute))
	}
	if err := m.requireNoTicket(ctx, id); err != nil {
		return domain.Source{}, err
	}
	if !src.SchemaValidated {
		return domain.Source{}, ErrNotValidated
	}

	if err := m.store.UpdateSourceHealth(ctx, id, domain.Usable); err != nil {
		return domain.Source{}, err
	}
	src.Health = domain.Usable
	m.logger.Info("Source confirmed", zap.Int64("source_id", id), zap.String("actor", actor))
	return src, nil
}

// Refine asks for an improved schema from feedback and the current
// results. The result is stored as the proposed schema; the current schema
// is untouched until ApplyRefinement.
func (m *Manager) Refine(ctx context.Context, id int64, actor, feedback string) (Proposal, error) {
	src, err := m.store.GetSource(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	if src.IsUsable() {
		return Proposal{}, ErrSourceUsable
	}
	if err := m.requireNoTicket(ctx, id); err != nil {
		return Proposal{}, err
	}
	if src.RefinementAttempts >= m.cfg.MaxRefinements {
		return Proposal{}, fmt.Errorf("%w: %d of %d used", ErrRefinementLimit, src.RefinementAttempts, m.cfg.MaxRefinements)
	}

	_, page, err := m.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to fetch %s: %w", src.URL, err)
	}
	previous := m.trySchema(ctx, src.URL, src.Schema)

	raw, err := inference.RefineSchema(ctx, m.inferrer, inference.Refinement{
		PageURL:         src.URL,
		BodyHTML:        BodyHTML(page),
		PreviousSchema:  src.Schema,
		PreviousResults: FormatStubs(previous.Posts),
		Feedback:        feedback,
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to refine schema: %w", err)
	}

	p := m.trySchema(ctx, src.URL, raw)
	src.ProposedSchema = raw
	src.RefinementAttempts++
	src.LastModifiedBy = actor
	if p.Source, err = m.store.SaveSource(ctx, src); err != nil {
		return Proposal{}, err
	}

	m.logger.Info("Schema refinement proposed",
		zap.Int64("source_id", id),
		zap.String("actor", actor),
		zap.Int("attempt", src.RefinementAttempts),
		zap.Int("posts", len(p.Posts)))
	return p, nil
}

// ApplyRefinement makes the proposed schema current and validates it. Only
// the actor who requested the refinement may apply it.
func (m *Manager) ApplyRefinement(ctx context.Context, id int64, actor string) (Proposal, error) {
	src, err := m.store.GetSource(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	if len(src.ProposedSchema) == 0 {
		return Proposal{}, ErrNoProposal
	}
	if src.LastModifiedBy != actor {
		return Proposal{}, fmt.Errorf("%w: refinement requested by %q", ErrNotPermitted, src.LastModifiedBy)
	}
	if err := m.requireNoTicket(ctx, id); err != nil {
		return Proposal{}, err
	}

	p := m.trySchema(ctx, src.URL, src.ProposedSchema)
	src.Schema = src.ProposedSchema
	src.ProposedSchema = nil
	src.SchemaValidated = p.SchemaErr == nil
	if p.Source, err = m.store.SaveSource(ctx, src); err != nil {
		return Proposal{}, err
	}
	m.logger.Info("Schema refinement applied",
		zap.Int64("source_id", id),
		zap.String("actor", actor),
		zap.Bool("validated", src.SchemaValidated))
	return p, nil
}

// OpenTicket records a request for human attention and makes the source
// unusable. It is always permitted.
func (m *Manager) OpenTicket(ctx context.Context, id int64, actor, message string) (int64, error) {
	src, err := m.store.GetSource(ctx, id)
	if err != nil {
		return 0, err
	}
	ticketID, err := m.store.OpenTicket(ctx, id, message, actor)
	if err != nil {
		return 0, err
	}
	src.Health = domain.Unusable
	src.LastModifiedBy = actor
	if _, err := m.store.SaveSource(ctx, src); err != nil {
		return 0, err
	}
	m.logger.Info("Ticket opened",
		zap.Int64("source_id", id),
		zap.Int64("ticket_id", ticketID),
		zap.String("actor", actor))
	return ticketID, nil
}

// ResolveTicket closes a ticket. The source stays unusable until confirmed.
func (m *Manager) ResolveTicket(ctx context.Context, ticketID int64) (domain.Ticket, error) {
	t, err := m.store.ResolveTicket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	m.logger.Info("Ticket resolved", zap.Int64("ticket_id", ticketID), zap.Int64("source_id", t.SourceID))
	return t, nil
}

func (m *Manager) requireNoTicket(ctx context.Context, id int64) error {
	t, err := m.store.OpenTicketFor(ctx, id)
	if err != nil {
		return err
	}
	if t != nil {
		return fmt.Errorf("%w (ticket %d)", ErrTicketOpen, t.ID)
	}
	return nil
}

// trySchema parses raw and runs it against the listing page. Problems are
// reported on the proposal rather than returned.
func (m *Manager) trySchema(ctx context.Context, pageURL string, raw []byte) Proposal {
	s, err := schema.Parse(raw)
	if err != nil {
		return Proposal{SchemaErr: err}
	}
	lst, err := m.lister.Extract(ctx, pageURL, s)
	if err != nil {
		return Proposal{Schema: s, SchemaErr: err}
	}
	if lst.Empty() {
		return Proposal{Schema: s, SchemaErr: fmt.Errorf("%d items matched, none with title and URL", lst.Matched)}
	}
	return Proposal{Schema: s, Posts: lst.Stubs}
}
