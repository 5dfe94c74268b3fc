// Package schema holds the declarative extraction rules used to turn a
// listing page into post stubs.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned for schemas missing required keys or carrying unknown values
var ErrMalformed = errors.New("malformed extraction schema")

// Kind selects how a listing page is read
type Kind string

const (
	// KindHTML applies CSS selectors to the listing page
	KindHTML Kind = "html"
	// KindFeed reads an RSS/Atom feed instead of HTML
	KindFeed Kind = "feed"
)

// BaseURLHandling controls how extracted post URLs are resolved
type BaseURLHandling string

const (
	RelativeToPage BaseURLHandling = "relative_to_page"
	Absolute       BaseURLHandling = "absolute"
)

// Schema is a validated extraction schema. Build one with Parse.
type Schema struct {
	Kind         Kind
	ItemSelector string
	Title        TextRule
	URL          URLRule
	Date         *DateRule
	FeedURL      string
}

// TextRule selects a value inside a list item, from an attribute or the element text
type TextRule struct {
	Selector  string
	Attribute string
}

// URLRule selects a post link inside a list item
type URLRule struct {
	Selector        string
	Attribute       string
	BaseURLHandling BaseURLHandling
}

// DateRule selects and parses a publication date inside a list item
type DateRule struct {
	Selector  string
	Attribute string
	Format    string
	Fallbacks []string
}

type wireRule struct {
	Selector        string          `json:"selector,omitempty"`
	Attribute       string          `json:"attribute,omitempty"`
	BaseURLHandling BaseURLHandling `json:"base_url_handling,omitempty"`
	Format          string          `json:"format,omitempty"`
	FallbackFormats []string        `json:"fallback_formats,omitempty"`
}

type wireFields struct {
	Title   *wireRule `json:"title,omitempty"`
	PostURL *wireRule `json:"post_url,omitempty"`
	Date    *wireRule `json:"date,omitempty"`
}

type wireSchema struct {
	Kind             Kind        `json:"kind,omitempty"`
	FeedURL          string      `json:"feed_url,omitempty"`
	PostItemSelector string      `json:"post_item_selector,omitempty"`
	Fields           *wireFields `json:"fields,omitempty"`
}

// Parse decodes and validates a JSON encoded schema.
func Parse(raw []byte) (*Schema, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	var w wireSchema
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s := &Schema{
		Kind:         w.Kind,
		ItemSelector: strings.TrimSpace(w.PostItemSelector),
		FeedURL:      strings.TrimSpace(w.FeedURL),
	}
	if s.Kind == "" {
		s.Kind = KindHTML
	}

	if w.Fields != nil {
		if r := w.Fields.Title; r != nil {
			s.Title = TextRule{Selector: strings.TrimSpace(r.Selector), Attribute: r.Attribute}
		}
		if r := w.Fields.PostURL; r != nil {
			s.URL = URLRule{
				Selector:        strings.TrimSpace(r.Selector),
				Attribute:       r.Attribute,
				BaseURLHandling: r.BaseURLHandling,
			}
		}
		if r := w.Fields.Date; r != nil && strings.TrimSpace(r.Selector) != "" {
			s.Date = &DateRule{
				Selector:  strings.TrimSpace(r.Selector),
				Attribute: r.Attribute,
				Format:    r.Format,
				Fallbacks: r.FallbackFormats,
			}
		}
	}

	if s.URL.Attribute == "" {
		s.URL.Attribute = "href"
	}
	if s.URL.BaseURLHandling == "" {
		s.URL.BaseURLHandling = RelativeToPage
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports the first missing or invalid key.
func (s *Schema) Validate() error {
	switch s.Kind {
	case KindFeed:
		return nil
	case KindHTML:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, s.Kind)
	}

	if s.ItemSelector == "" {
		return fmt.Errorf("%w: post_item_selector is required", ErrMalformed)
	}
	if s.Title.Selector == "" {
		return fmt.Errorf("%w: fields.title.selector is required", ErrMalformed)
	}
	if s.URL.Selector == "" {
		return fmt.Errorf("%w: fields.post_url.selector is required", ErrMalformed)
	}
	switch s.URL.BaseURLHandling {
	case RelativeToPage, Absolute:
	default:
		return fmt.Errorf("%w: unknown base_url_handling %q", ErrMalformed, s.URL.BaseURLHandling)
	}

	if s.Date != nil {
		for _, f := range s.Date.Formats() {
			if _, err := Layout(f); err != nil {
				return fmt.Errorf("%w: date format %q: %v", ErrMalformed, f, err)
			}
		}
	}
	return nil
}

// Encode returns the JSON form accepted by Parse.
func (s *Schema) Encode() ([]byte, error) {
	w := wireSchema{Kind: s.Kind, FeedURL: s.FeedURL, PostItemSelector: s.ItemSelector}
	if s.Kind == KindHTML {
		w.Fields = &wireFields{
			Title: &wireRule{Selector: s.Title.Selector, Attribute: s.Title.Attribute},
			PostURL: &wireRule{
				Selector:        s.URL.Selector,
				Attribute:       s.URL.Attribute,
				BaseURLHandling: s.URL.BaseURLHandling,
			},
		}
		if s.Date != nil {
			w.Fields.Date = &wireRule{
				Selector:        s.Date.Selector,
				Attribute:       s.Date.Attribute,
				Format:          s.Date.Format,
				FallbackFormats: s.Date.Fallbacks,
			}
		}
	}
	return json.Marshal(w)
}
