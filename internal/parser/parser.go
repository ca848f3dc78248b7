// Package parser extracts PageRecords from HTML using goquery.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

const noTitle = "No title"

// reservedFields are record keys that configured selectors may not overwrite.
var reservedFields = map[string]struct{}{
	"title":            {},
	"meta_description": {},
	"url":              {},
	"timestamp":        {},
	"links":            {},
	"images":           {},
	"text_content":     {},
	"tables":           {},
}

// Rule is an advanced extraction rule. Attribute takes precedence over Regex;
// with neither set the element text is used.
type Rule struct {
	Selector  string `mapstructure:"selector" json:"selector" yaml:"selector"`
	Attribute string `mapstructure:"attribute" json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Regex     string `mapstructure:"regex" json:"regex,omitempty" yaml:"regex,omitempty"`
}

// Config controls what the parser extracts.
type Config struct {
	Selectors     map[string]string
	Rules         map[string]Rule
	ExtractTables bool
}

type compiledRule struct {
	selector  string
	attribute string
	pattern   *regexp.Regexp
}

// HTMLParser implements crawler.Parser.
type HTMLParser struct {
	selectors     map[string]string
	rules         map[string]compiledRule
	extractTables bool
	clock         crawler.Clock
}

// New validates cfg and returns a parser. Records are timestamped with clock.
func New(cfg Config, clock crawler.Clock) (*HTMLParser, error) {
	if clock == nil {
		return nil, fmt.Errorf("parser requires a clock")
	}
	rules := make(map[string]compiledRule, len(cfg.Rules))
	for name, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Selector) == "" {
			return nil, fmt.Errorf("extract rule %q: selector is required", name)
		}
		compiled := compiledRule{selector: rule.Selector, attribute: rule.Attribute}
		if rule.Attribute == "" && rule.Regex != "" {
			re, err := regexp.Compile(rule.Regex)
			if err != nil {
				return nil, fmt.Errorf("extract rule %q: %w", name, err)
			}
			compiled.pattern = re
		}
		rules[name] = compiled
	}
	selectors := make(map[string]string, len(cfg.Selectors))
	for name, sel := range cfg.Selectors {
		selectors[name] = sel
	}
	return &HTMLParser{
		selectors:     selectors,
		rules:         rules,
		extractTables: cfg.ExtractTables,
		clock:         clock,
	}, nil
}

// Parse builds a PageRecord from body.
func (p *HTMLParser) Parse(body []byte, sourceURL string) (crawler.PageRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("parse source url: %w", err)
	}

	record := crawler.PageRecord{
		URL:             sourceURL,
		Timestamp:       p.clock.Now(),
		Title:           p.extractTitle(doc),
		MetaDescription: extractMetaDescription(doc),
		Links:           extractLinks(doc, base),
		Images:          extractImages(doc, base),
	}

	fields := make(map[string][]string)
	for name, sel := range p.selectors {
		if _, reserved := reservedFields[name]; reserved {
			continue
		}
		fields[name] = selectTexts(doc, sel)
	}
	for name, rule := range p.rules {
		if _, reserved := reservedFields[name]; reserved {
			continue
		}
		fields[name] = applyRule(doc, rule)
	}
	if len(fields) > 0 {
		record.Fields = fields
	}
	if p.extractTables {
		record.Tables = extractTables(doc)
	}
	// Text extraction removes nodes, so it runs last.
	record.TextContent = extractText(doc)
	return record, nil
}

// ExtractLinks returns the absolute http(s) links in body, fragment-free and
// deduplicated in document order.
func (p *HTMLParser) ExtractLinks(body []byte, sourceURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	return extractLinks(doc, base), nil
}

func (p *HTMLParser) extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		return strings.TrimSpace(h1.Text())
	}
	if sel, ok := p.selectors["title"]; ok && sel != "" {
		if el := doc.Find(sel).First(); el.Length() > 0 {
			return strings.TrimSpace(el.Text())
		}
	}
	return noTitle
}

func extractMetaDescription(doc *goquery.Document) string {
	content, ok := doc.Find(`meta[name="description"]`).First().Attr("content")
	if !ok {
		return ""
	}
	return strings.TrimSpace(content)
}

func selectTexts(doc *goquery.Document, sel string) []string {
	out := []string{}
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func applyRule(doc *goquery.Document, rule compiledRule) []string {
	out := []string{}
	doc.Find(rule.selector).Each(func(_ int, s *goquery.Selection) {
		switch {
		case rule.attribute != "":
			if v, ok := s.Attr(rule.attribute); ok && v != "" {
				out = append(out, v)
			}
		case rule.pattern != nil:
			if m := rule.pattern.FindString(s.Text()); m != "" {
				out = append(out, m)
			}
		default:
			out = append(out, strings.TrimSpace(s.Text()))
		}
	})
	return out
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := []string{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		abs, ok := resolve(base, href)
		if !ok || (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL) []string {
	images := []string{}
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if abs, ok := resolve(base, strings.TrimSpace(src)); ok {
			images = append(images, abs.String())
		}
	})
	return images
}

func resolve(base *url.URL, ref string) (*url.URL, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	return base.ResolveReference(u), true
}

func extractTables(doc *goquery.Document) []crawler.Table {
	tables := []crawler.Table{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() == 0 {
			return
		}
		headers := cellTexts(rows.First())
		var out []crawler.TableRow
		rows.Slice(1, rows.Length()).Each(func(_ int, tr *goquery.Selection) {
			cells := cellTexts(tr)
			if len(cells) == 0 {
				return
			}
			if len(headers) > 0 && len(headers) == len(cells) {
				values := make(map[string]string, len(cells))
				for i, h := range headers {
					values[h] = cells[i]
				}
				out = append(out, crawler.TableRow{Values: values})
				return
			}
			out = append(out, crawler.TableRow{Cells: cells})
		})
		if len(out) > 0 {
			tables = append(tables, crawler.Table{Headers: headers, Rows: out})
		}
	})
	return tables
}

func cellTexts(tr *goquery.Selection) []string {
	var cells []string
	tr.Find("th, td").Each(func(_ int, s *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(s.Text()))
	})
	return cells
}

func extractText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header").Remove()
	var parts []string
	for _, n := range doc.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, parts)
	}
}
