package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSchema = `{
  "post_item_selector": "div.post",
  "fields": {
    "title": {"selector": "h2"},
    "post_url": {"selector": "a.link", "base_url_handling": "relative_to_page"},
    "date": {"selector": "time", "attribute": "datetime", "format": "%Y-%m-%d", "fallback_formats": ["%B %d, %Y", "auto"]}
  }
}`

func TestParse_Valid(t *testing.T) {
	s, err := Parse([]byte(validSchema))
	require.NoError(t, err)

	assert.Equal(t, KindHTML, s.Kind)
	assert.Equal(t, "div.post", s.ItemSelector)
	assert.Equal(t, "h2", s.Title.Selector)
	assert.Equal(t, "href", s.URL.Attribute, "post_url attribute defaults to href")
	assert.Equal(t, RelativeToPage, s.URL.BaseURLHandling)
	require.NotNil(t, s.Date)
	assert.Equal(t, []string{"%Y-%m-%d", "%B %d, %Y", "auto"}, s.Date.Formats())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "{"},
		{"no item selector", `{"fields": {"title": {"selector": "h2"}, "post_url": {"selector": "a"}}}`},
		{"no fields", `{"post_item_selector": "div"}`},
		{"no title", `{"post_item_selector": "div", "fields": {"post_url": {"selector": "a"}}}`},
		{"no url", `{"post_item_selector": "div", "fields": {"title": {"selector": "h2"}}}`},
		{"bad kind", `{"kind": "pdf"}`},
		{"bad base handling", `{"post_item_selector": "div", "fields": {"title": {"selector": "h2"}, "post_url": {"selector": "a", "base_url_handling": "sideways"}}}`},
		{"bad date directive", `{"post_item_selector": "div", "fields": {"title": {"selector": "h2"}, "post_url": {"selector": "a"}, "date": {"selector": "time", "format": "%Q"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestParse_Feed(t *testing.T) {
	s, err := Parse([]byte(`{"kind": "feed", "feed_url": "https://example.com/rss.xml"}`))
	require.NoError(t, err)
	assert.Equal(t, KindFeed, s.Kind)
	assert.Equal(t, "https://example.com/rss.xml", s.FeedURL)
}

func TestEncode_RoundTrip(t *testing.T) {
	s, err := Parse([]byte(validSchema))
	require.NoError(t, err)

	raw, err := s.Encode()
	require.NoError(t, err)

	again, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}
