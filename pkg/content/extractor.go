// Package content isolates the readable text of a post page.
package content

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Unparseable is returned by ArticleText for documents without a body
const Unparseable = "Unable to parse post content."

// DefaultMinLength is the shortest text accepted as a real article
const DefaultMinLength = 100

// ErrTooShort is returned when no strategy produced enough text
var ErrTooShort = errors.New("extracted text shorter than minimum length")

// noise is stripped before text is collected so it does not inflate word counts
const noise = "nav, aside, header, footer, script, style"

// Extractor defines an interface for extracting title and text from HTML content
type Extractor interface {
	ExtractTitle(htmlContent string) (string, error)
	ExtractText(htmlContent, pageURL string) (string, error)
}

// DefaultExtractor runs the container heuristic first and falls back to
// readability when the heuristic yields less than MinLength characters.
type DefaultExtractor struct {
	MinLength int
}

var _ Extractor = (*DefaultExtractor)(nil)

// NewDefaultExtractor creates a new default extractor
func NewDefaultExtractor(minLength int) *DefaultExtractor {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &DefaultExtractor{MinLength: minLength}
}

// ExtractTitle extracts the article title using the default extraction logic
func (e *DefaultExtractor) ExtractTitle(htmlContent string) (string, error) {
	return ExtractTitle(htmlContent)
}

// ExtractText returns the article text, or ErrTooShort together with the
// best text found when neither strategy reaches MinLength.
func (e *DefaultExtractor) ExtractText(htmlContent, pageURL string) (string, error) {
	text := ArticleText(htmlContent)
	if len(text) >= e.MinLength && text != Unparseable {
		return text, nil
	}

	if readable, err := ReadableText(htmlContent, pageURL); err == nil && len(readable) >= e.MinLength {
		return readable, nil
	}

	return text, fmt.Errorf("%w: got %d characters, need %d", ErrTooShort, len(text), e.MinLength)
}

// ArticleText picks the main container of a post page: a single <article>,
// else the element with role="main", else <body>. Navigation, sidebars,
// headers, footers, scripts and styles are removed and the remaining text
// is returned one trimmed line per block. Documents without a body yield
// Unparseable.
func ArticleText(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Unparseable
	}

	var container *goquery.Selection
	if articles := doc.Find("article"); articles.Length() == 1 {
		container = articles
	} else if main := doc.Find(`[role="main"]`).First(); main.Length() > 0 {
		container = main
	} else if strings.Contains(strings.ToLower(htmlContent), "<body") {
		container = doc.Find("body").First()
	} else {
		return Unparseable
	}

	container.Find(noise).Remove()
	return collectText(container)
}

// collectText emits one trimmed line per non-empty text node.
func collectText(sel *goquery.Selection) string {
	var lines []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if line := strings.Join(strings.Fields(c.Text()), " "); line != "" {
					lines = append(lines, line)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return strings.Join(lines, "\n")
}

// ReadableText extracts the main article text with readability
func ReadableText(htmlContent, pageURL string) (string, error) {
	var parsed *url.URL
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			parsed = u
		}
	}

	article, err := readability.FromReader(strings.NewReader(htmlContent), parsed)
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	return strings.TrimSpace(article.TextContent), nil
}

// WordCount counts whitespace separated words
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ExtractTitle extracts the page title from HTML content with fallback mechanisms
func ExtractTitle(htmlContent string) (string, error) {
	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err == nil {
		if title := strings.TrimSpace(article.Title); title != "" {
			return title, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title, nil
	}

	if title, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title), nil
	}

	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		return title, nil
	}

	return "", fmt.Errorf("title not found in HTML")
}
