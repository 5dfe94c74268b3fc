package lifecycle

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blog-monitor/pkg/content"
	"blog-monitor/pkg/domain"
)

// BodyHTML returns the page's <body> markup without scripts, styles and
// other subtrees that carry no listing structure.
func BodyHTML(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return string(page)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return string(page)
	}
	body.Find("script, style, noscript, svg, iframe, template").Remove()
	html, err := goquery.OuterHtml(body)
	if err != nil {
		return string(page)
	}
	return html
}

// sourceName prefers the page title and falls back to the host.
func sourceName(page []byte, u *url.URL) string {
	if title, err := content.ExtractTitle(string(page)); err == nil && title != "" {
		return title
	}
	return normalizedHost(u)
}

// FormatStubs renders stubs as a numbered list for prompts and terminals.
func FormatStubs(stubs []domain.PostStub) string {
	var b strings.Builder
	for i, s := range stubs {
		date := "unknown"
		if s.Date != nil {
			date = s.Date.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   Date: %s\n\n", i+1, s.Title, s.URL, date)
	}
	return strings.TrimSpace(b.String())
}
