// Package listing turns a source's listing page into post stubs using its
// extraction schema.
package listing

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/schema"
	"blog-monitor/pkg/urls"
)

// Listing is what a listing page yielded. Matched counts the items the
// schema selected before incomplete ones were dropped.
type Listing struct {
	Stubs   []domain.PostStub
	Matched int
}

// Empty reports whether no usable stub was found.
func (l Listing) Empty() bool {
	return len(l.Stubs) == 0
}

// Extractor applies extraction schemas to fetched listing pages
type Extractor struct {
	fetcher    httpclient.Fetcher
	feedParser *gofeed.Parser
	logger     *zap.Logger
}

// NewExtractor creates a new listing extractor
func NewExtractor(fetcher httpclient.Fetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher:    fetcher,
		feedParser: gofeed.NewParser(),
		logger:     logger.With(zap.String("component", "listing")),
	}
}

// Extract fetches pageURL and applies s. The only error returned is the
// fetch failure; a schema that selects nothing yields an empty Listing so
// callers can tell an unreachable page from a changed layout.
func (e *Extractor) Extract(ctx context.Context, pageURL string, s *schema.Schema) (Listing, error) {
	if s == nil {
		e.logger.Warn("No extraction schema", zap.String("source_url", pageURL))
		return Listing{}, nil
	}
	if err := s.Validate(); err != nil {
		e.logger.Warn("Invalid extraction schema", zap.String("source_url", pageURL), zap.Error(err))
		return Listing{}, nil
	}

	target := pageURL
	if s.Kind == schema.KindFeed && s.FeedURL != "" {
		target = urls.Resolve(pageURL, s.FeedURL)
	}

	_, body, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		return Listing{}, err
	}

	if s.Kind == schema.KindFeed {
		return e.ParseFeed(target, body), nil
	}
	return e.ParseHTML(pageURL, body, s), nil
}

// ParseHTML applies an html schema to an already fetched listing page.
func (e *Extractor) ParseHTML(pageURL string, body []byte, s *schema.Schema) Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("Failed to parse listing HTML", zap.String("source_url", pageURL), zap.Error(err))
		return Listing{}
	}

	items := doc.Find(s.ItemSelector)
	if items.Length() == 0 {
		e.logger.Info("Post item selector matched nothing",
			zap.String("source_url", pageURL),
			zap.String("selector", s.ItemSelector))
		return Listing{}
	}

	listing := Listing{Matched: items.Length()}
	items.Each(func(i int, item *goquery.Selection) {
		stub := domain.PostStub{
			Title: selectValue(item, s.Title.Selector, s.Title.Attribute),
		}

		if href := selectValue(item, s.URL.Selector, s.URL.Attribute); href != "" {
			if s.URL.BaseURLHandling == schema.RelativeToPage {
				href = urls.Resolve(pageURL, href)
			}
			stub.URL = href
		}

		if s.Date != nil {
			if raw := selectValue(item, s.Date.Selector, s.Date.Attribute); raw != "" {
				if t, ok := s.Date.Parse(raw); ok {
					stub.Date = &t
				} else {
					e.logger.Debug("No date format matched",
						zap.String("source_url", pageURL),
						zap.String("value", raw))
				}
			}
		}

		if stub.Title == "" || stub.URL == "" {
			e.logger.Info("Skipping post item missing title or URL",
				zap.String("source_url", pageURL),
				zap.Int("item", i),
				zap.String("title", stub.Title),
				zap.String("post_url", stub.URL))
			return
		}
		listing.Stubs = append(listing.Stubs, stub)
	})

	return listing
}

// selectValue returns the trimmed attribute or text of the first element
// matching selector inside item.
func selectValue(item *goquery.Selection, selector, attribute string) string {
	if selector == "" {
		return ""
	}
	target := item.Find(selector).First()
	if target.Length() == 0 {
		return ""
	}
	if attribute != "" {
		v, _ := target.Attr(attribute)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(target.Text()), " ")
}

// ParseFeed reads an RSS/Atom document as a listing.
func (e *Extractor) ParseFeed(feedURL string, body []byte) Listing {
	feed, err := e.feedParser.Parse(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("Failed to parse feed", zap.String("source_url", feedURL), zap.Error(err))
		return Listing{}
	}
	if feed == nil {
		return Listing{}
	}

	listing := Listing{Matched: len(feed.Items)}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		stub := domain.PostStub{
			Title: strings.TrimSpace(item.Title),
			URL:   urls.Resolve(feedURL, item.Link),
		}
		if stub.Title == "" || stub.URL == "" {
			e.logger.Info("Skipping feed item missing title or URL",
				zap.String("source_url", feedURL),
				zap.String("post_url", stub.URL))
			continue
		}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			stub.Date = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			stub.Date = &t
		}
		listing.Stubs = append(listing.Stubs, stub)
	}
	return listing
}

// FeedLink returns the first RSS/Atom alternate link advertised by an HTML
// page, resolved against pageURL, or "" when there is none.
func FeedLink(pageURL string, body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var link string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		typ, _ := s.Attr("type")
		href, _ := s.Attr("href")
		typ = strings.ToLower(typ)
		if href != "" && (strings.Contains(typ, "rss") || strings.Contains(typ, "atom")) {
			link = urls.Resolve(pageURL, href)
			return false
		}
		return true
	})
	return link
}
