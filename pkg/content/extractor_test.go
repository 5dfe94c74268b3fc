package content

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticleText_SingleArticle(t *testing.T) {
	page := `<html><body>
<nav>Home | About</nav>
<article>
  <header>Posted by someone</header>
  <h1>Title</h1>
  <p>First   paragraph.</p>
  <script>var x = 1;</script>
  <p>Second paragraph.</p>
  <aside>Related posts</aside>
</article>
<footer>Copyright</footer>
</body></html>`

	assert.Equal(t, "Title\nFirst paragraph.\nSecond paragraph.", ArticleText(page))
}

func TestArticleText_TwoArticlesFallsBackToMainRole(t *testing.T) {
	page := `<html><body>
<div role="main"><article><p>One</p></article><article><p>Two</p></article></div>
<div>Outside main</div>
</body></html>`

	assert.Equal(t, "One\nTwo", ArticleText(page))
}

func TestArticleText_TwoArticlesNoMainFallsBackToBody(t *testing.T) {
	page := `<html><body>
<article><p>One</p></article><article><p>Two</p></article>
<footer>Footer</footer>
<div>Extra</div>
</body></html>`

	assert.Equal(t, "One\nTwo\nExtra", ArticleText(page))
}

func TestArticleText_NoBody(t *testing.T) {
	assert.Equal(t, Unparseable, ArticleText(""))
	assert.Equal(t, Unparseable, ArticleText("just some loose text"))
}

func TestDefaultExtractor_TooShort(t *testing.T) {
	e := NewDefaultExtractor(0)
	text, err := e.ExtractText(`<html><body><article><p>Tiny.</p></article></body></html>`, "https://example.com/p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooShort))
	assert.Equal(t, "Tiny.", text)
}

func TestDefaultExtractor_LongArticle(t *testing.T) {
	para := strings.Repeat("Go makes concurrent programs pleasant to write. ", 10)
	page := "<html><body><article><p>" + para + "</p></article></body></html>"

	text, err := NewDefaultExtractor(100).ExtractText(page, "https://example.com/p")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(para), text)
	assert.Equal(t, 70, WordCount(text))
}

func TestExtractTitle(t *testing.T) {
	title, err := ExtractTitle(`<html><head><title>My Blog</title></head><body><p>x</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "My Blog", title)
}
