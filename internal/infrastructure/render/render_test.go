package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchBrief/internal/domain"
)

func TestMarkdownSanitizes(t *testing.T) {
	t.Parallel()

	r := NewHTMLRenderer("https://brief.example")
	out, err := r.Markdown("# Title\n\n- one\n- two\n\n<script>alert(1)</script>\n\n1. [Link](https://news.example/a) - News\n")
	require.NoError(t, err)

	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<li>one</li>")
	assert.Contains(t, out, `href="https://news.example/a"`)
	assert.Contains(t, out, `rel="nofollow`)
	assert.NotContains(t, out, "<script>")
}

func TestNotificationEmbedsTokenLinks(t *testing.T) {
	t.Parallel()

	r := NewHTMLRenderer("https://brief.example/")
	out, err := r.Notification("Chips <weekly>", "<h1>Body</h1><script>x()</script>", domain.LinkTokens{
		Preferences: "p&1",
		Pause:       "pa",
		Unsubscribe: "un",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Chips &lt;weekly&gt;</title>")
	assert.Contains(t, out, "<h1>Body</h1>")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "https://brief.example/preferences?token=p%261")
	assert.Contains(t, out, "https://brief.example/pause?token=pa")
	assert.Contains(t, out, "https://brief.example/unsubscribe?token=un")
}

func TestNotificationWithoutTokens(t *testing.T) {
	t.Parallel()

	out, err := NewHTMLRenderer("https://brief.example").Notification("s", "<p>b</p>", domain.LinkTokens{})
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "token="))
}
