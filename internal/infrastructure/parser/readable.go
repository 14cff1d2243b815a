package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

// contentSelectors are tried in order; the first one yielding enough text wins.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".post-content",
	".article-body",
	".entry-content",
	".story-body",
}

// noiseSelectors are removed before any text is read.
var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=complementary]",
	".ad", ".ads", ".advert", ".advertisement", "[id^=google_ads]",
	".share", ".sharing", ".social", ".social-share", ".newsletter", ".related",
	".cookie-banner", ".comments",
}, ", ")

// Document is the readable view of a fetched HTML page.
type Document struct {
	Title       string
	SourceName  string
	PublishedAt *time.Time
	// Text is the main-content text with whitespace collapsed.
	Text string
	// Paywalled is set when the page carries subscription boilerplate.
	Paywalled bool
}

// Extract parses an HTML page and returns its readable content. minLength is
// the length a structural match must reach before the whole-body fallback is skipped.
func Extract(body []byte, pageURL string, minLength int) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}

	out := Document{
		Title:       pageTitle(doc),
		SourceName:  siteName(doc, pageURL),
		PublishedAt: publishedAt(doc),
	}

	doc.Find(noiseSelectors).Remove()
	bodyText := blockText(doc.Find("body"))
	if bodyText == "" {
		bodyText = blockText(doc.Selection)
	}
	out.Paywalled = HasPaywallText(bodyText)

	best := ""
	for _, selector := range contentSelectors {
		text := longestMatch(doc.Find(selector))
		if runeLen(text) > runeLen(best) {
			best = text
		}
		if runeLen(text) >= minLength {
			best = text
			break
		}
	}
	if runeLen(best) < minLength && runeLen(bodyText) > runeLen(best) {
		best = bodyText
	}
	out.Text = best
	return out, nil
}

// Truncate cuts text to at most limit runes, preferring the last word boundary.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i > limit/2; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), unicode.IsSpace)
		}
	}
	return string(cut)
}

func longestMatch(sel *goquery.Selection) string {
	best := ""
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := blockText(s); runeLen(text) > runeLen(best) {
			best = text
		}
	})
	return best
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
	"br": true, "tr": true, "td": true, "th": true, "figcaption": true, "dd": true, "dt": true,
}

// blockText is Selection.Text with a space between block elements so that
// adjacent paragraphs do not run together.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if blockElements[n.Data] {
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte(' ')
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return collapseSpace(b.String())
}

func pageTitle(doc *goquery.Document) string {
	if v := metaContent(doc, "og:title"); v != "" {
		return v
	}
	return collapseSpace(doc.Find("title").First().Text())
}

func siteName(doc *goquery.Document, pageURL string) string {
	if v := metaContent(doc, "og:site_name"); v != "" {
		return v
	}
	return RegistrableDomain(pageURL)
}

// RegistrableDomain returns the eTLD+1 of a URL, or its bare host.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

func publishedAt(doc *goquery.Document) *time.Time {
	candidates := []string{
		metaContent(doc, "article:published_time"),
		metaContent(doc, "og:published_time"),
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}
