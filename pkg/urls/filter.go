package urls

import (
	"context"
	"net/url"
	"strings"
)

// UrlFilter defines the interface for URL filtering
type UrlFilter interface {
	ShouldKeep(ctx context.Context, url string) (bool, error)
}

// Apply returns the URLs every filter keeps, in input order.
func Apply(ctx context.Context, in []string, filters ...UrlFilter) ([]string, error) {
	out := make([]string, 0, len(in))
next:
	for _, u := range in {
		for _, f := range filters {
			keep, err := f.ShouldKeep(ctx, u)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue next
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// BaseURLFilter filters out base/root URLs
type BaseURLFilter struct{}

// NewBaseURLFilter creates a new base URL filter
func NewBaseURLFilter() *BaseURLFilter {
	return &BaseURLFilter{}
}

// ShouldKeep returns false if URL is a base/root URL
func (f *BaseURLFilter) ShouldKeep(ctx context.Context, urlStr string) (bool, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return true, nil
	}
	path := strings.Trim(parsed.Path, "/")
	return path != "", nil
}

// KnownFilter drops URLs whose key is already stored and repeats within one batch.
type KnownFilter struct {
	known map[string]bool
}

// NewKnownFilter creates a filter from a set of stored URL keys
func NewKnownFilter(knownKeys map[string]bool) *KnownFilter {
	known := make(map[string]bool, len(knownKeys))
	for k, v := range knownKeys {
		known[k] = v
	}
	return &KnownFilter{known: known}
}

// ShouldKeep returns false for stored or already seen URLs. Unparseable URLs are dropped.
func (f *KnownFilter) ShouldKeep(ctx context.Context, urlStr string) (bool, error) {
	key, err := Key(urlStr)
	if err != nil {
		return false, nil
	}
	if f.known[key] {
		return false, nil
	}
	f.known[key] = true
	return true, nil
}
