package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const samplePage = `<!doctype html>
<html>
<head>
  <title> Sample Page </title>
  <meta name="description" content=" A page for tests ">
  <style>.x{color:red}</style>
</head>
<body>
  <header>Site header</header>
  <nav><a href="/nav">Nav</a></nav>
  <h1>Heading</h1>
  <p>First   paragraph.</p>
  <p>   </p>
  <p class="price">Price: $42.50</p>
  <a href="/about">About</a>
  <a href="about#team">About again</a>
  <a href="https://other.test/x#frag">Other</a>
  <a href="#top">Top</a>
  <a href="javascript:void(0)">JS</a>
  <a href="mailto:a@b.test">Mail</a>
  <a href="/about">Dup</a>
  <img src="/img/logo.png">
  <img src="https://cdn.test/pic.jpg">
  <script>var ignored = true;</script>
  <table>
    <tr><th>Name</th><th>Qty</th></tr>
    <tr><td>Apple</td><td>3</td></tr>
    <tr><td>Odd</td></tr>
  </table>
  <footer>Footer text</footer>
</body>
</html>`

func newTestParser(t *testing.T, cfg Config) *HTMLParser {
	t.Helper()
	p, err := New(cfg, fixedClock{t: testTime})
	require.NoError(t, err)
	return p
}

func TestParseExtractsRecord(t *testing.T) {
	t.Parallel()

	p := newTestParser(t, Config{
		Selectors: map[string]string{"title": "h1", "content": "p", "links": "a", "missing": ".nope"},
		Rules: map[string]Rule{
			"price": {Selector: ".price", Regex: `\$[0-9.]+`},
			"hrefs": {Selector: "a", Attribute: "href"},
		},
	})

	record, err := p.Parse([]byte(samplePage), "https://example.com/dir/page")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/dir/page", record.URL)
	assert.Equal(t, testTime, record.Timestamp)
	assert.Equal(t, "Sample Page", record.Title)
	assert.Equal(t, "A page for tests", record.MetaDescription)
	assert.Equal(t, []string{
		"https://example.com/nav",
		"https://example.com/about",
		"https://example.com/dir/about",
		"https://other.test/x",
	}, record.Links)
	assert.Equal(t, []string{"https://example.com/img/logo.png", "https://cdn.test/pic.jpg"}, record.Images)

	assert.Equal(t, []string{"First   paragraph.", "Price: $42.50"}, record.Fields["content"])
	assert.Equal(t, []string{}, record.Fields["missing"])
	assert.Equal(t, []string{"$42.50"}, record.Fields["price"])
	assert.Len(t, record.Fields["hrefs"], 8)
	assert.NotContains(t, record.Fields, "title")
	assert.NotContains(t, record.Fields, "links")
	assert.Nil(t, record.Tables)

	assert.Contains(t, record.TextContent, "First paragraph.")
	assert.NotContains(t, record.TextContent, "ignored")
	assert.NotContains(t, record.TextContent, "Site header")
	assert.NotContains(t, record.TextContent, "Footer text")
	assert.NotContains(t, record.TextContent, "color:red")
}

func TestParseTitleFallbacks(t *testing.T) {
	t.Parallel()

	p := newTestParser(t, Config{Selectors: map[string]string{"title": ".headline"}})

	testCases := []struct {
		name string
		html string
		want string
	}{
		{"title tag", `<title>T</title><h1>H</h1>`, "T"},
		{"empty title uses h1", `<title>  </title><h1> H </h1>`, "H"},
		{"selector", `<div class="headline">Custom</div>`, "Custom"},
		{"none", `<p>nothing</p>`, "No title"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			record, err := p.Parse([]byte(tc.html), "https://example.com/")
			require.NoError(t, err)
			assert.Equal(t, tc.want, record.Title)
		})
	}
}

func TestParseTables(t *testing.T) {
	t.Parallel()

	p := newTestParser(t, Config{ExtractTables: true})
	record, err := p.Parse([]byte(samplePage), "https://example.com/")
	require.NoError(t, err)

	require.Len(t, record.Tables, 1)
	table := record.Tables[0]
	assert.Equal(t, []string{"Name", "Qty"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, map[string]string{"Name": "Apple", "Qty": "3"}, table.Rows[0].Values)
	assert.Equal(t, []string{"Odd"}, table.Rows[1].Cells)
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	p := newTestParser(t, Config{})
	links, err := p.ExtractLinks([]byte(`
		<a href="b">B</a>
		<a href="http://example.com/b">B abs</a>
		<a href="//cdn.test/c">C</a>
		<a href="ftp://files.test/d">D</a>
		<a>no href</a>`), "http://example.com/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.com/a/b", "http://example.com/b", "http://cdn.test/c"}, links)

	links, err = p.ExtractLinks([]byte(`<p>no links</p>`), "http://example.com/")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestNewRejectsBadRules(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Rules: map[string]Rule{"x": {Selector: "p", Regex: "("}}}, fixedClock{})
	require.Error(t, err)

	_, err = New(Config{Rules: map[string]Rule{"x": {Regex: "a"}}}, fixedClock{})
	require.Error(t, err)

	_, err = New(Config{}, nil)
	require.Error(t, err)
}

var _ crawler.Parser = (*HTMLParser)(nil)
