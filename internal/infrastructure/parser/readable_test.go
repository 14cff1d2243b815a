package parser

import (
	"strings"
	"testing"
)

func articlePage(body string) []byte {
	return []byte(`<html><head>
	<title>Fallback title</title>
	<meta property="og:title" content="Chip rules tighten">
	<meta property="article:published_time" content="2026-10-15T08:30:00Z">
	</head><body>
	<nav>Home | World | Business</nav>
	<script>var tracking = "subscribe to continue";</script>
	<article><h1>Chip rules tighten</h1><p>` + body + `</p>
	<div class="share">Share on social</div></article>
	<footer>Copyright</footer>
	</body></html>`)
}

func TestExtractPrefersStructuralContent(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Export controls widened again this week. ", 40)
	doc, err := Extract(articlePage(text), "https://www.news.example.co.uk/a/1", 200)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}

	if doc.Title != "Chip rules tighten" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
	if doc.SourceName != "example.co.uk" {
		t.Fatalf("unexpected source name: %q", doc.SourceName)
	}
	if doc.PublishedAt == nil || doc.PublishedAt.Format("2006-01-02") != "2026-10-15" {
		t.Fatalf("unexpected published date: %v", doc.PublishedAt)
	}
	if doc.Paywalled {
		t.Fatal("script content must not trigger paywall detection")
	}
	for _, noise := range []string{"Home | World", "Share on social", "Copyright", "tracking"} {
		if strings.Contains(doc.Text, noise) {
			t.Fatalf("extracted text still contains %q", noise)
		}
	}
	if !strings.HasPrefix(doc.Text, "Chip rules tighten Export controls") {
		t.Fatalf("unexpected text start: %q", doc.Text[:60])
	}
}

func TestExtractFallsBackToBody(t *testing.T) {
	t.Parallel()

	page := `<html><body><div class="wrapper"><p>` + strings.Repeat("word ", 100) + `</p></div>
	<article>tiny</article></body></html>`
	doc, err := Extract([]byte(page), "https://blog.example/post", 200)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if len(doc.Text) < 400 {
		t.Fatalf("expected body fallback text, got %d chars", len(doc.Text))
	}
	if doc.SourceName != "blog.example" {
		t.Fatalf("unexpected source name: %q", doc.SourceName)
	}
}

func TestExtractDetectsPaywallBoilerplate(t *testing.T) {
	t.Parallel()

	page := `<html><body><article><p>Opening paragraph.</p>
	<div class="gate">Subscribe to continue reading this story.</div></article></body></html>`
	doc, err := Extract([]byte(page), "https://paper.example/story", 100)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !doc.Paywalled {
		t.Fatal("expected paywall boilerplate to be detected")
	}
}

func TestIsPaywallURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"https://paper.example/subscribe?return=/story": true,
		"https://paper.example/account/login":           true,
		"https://paper.example/story?paywall=1":         true,
		"https://paper.example/2026/10/story":           false,
		"https://paper.example/Premium/story":           true,
		"https://paper.example/news/login/":             true,
		"https://paper.example/story?gate=paywall":      true,

		"https://paper.example/news/register-to-vote-deadline":  false,
		"https://paper.example/business/subscription-boxes-boom": false,
		"https://paper.example/tech/login-flaws-exposed":         false,
		"https://paper.example/story?utm_campaign=subscribers":   false,
	}
	for raw, want := range cases {
		if got := IsPaywallURL(raw); got != want {
			t.Fatalf("IsPaywallURL(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestTruncateAtWordBoundary(t *testing.T) {
	t.Parallel()

	text := "alpha beta gamma delta"
	if got := Truncate(text, 13); got != "alpha beta" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := Truncate(text, 100); got != text {
		t.Fatalf("short text must be unchanged, got %q", got)
	}
}
