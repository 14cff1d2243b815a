package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://News.Example.COM/story/?utm_source=x&b=2&a=1#top": "https://news.example.com/story?a=1&b=2",
		"https://news.example.com/story":                            "https://news.example.com/story",
		"https://news.example.com:443/story/?fbclid=abc":            "https://news.example.com/story",
		"https://news.example.com/":                                 "https://news.example.com",
		"http://news.example.com:8080/a?gclid=1&id=7":               "http://news.example.com:8080/a?id=7",
		"not a url":                                                 "not a url",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalURL(in), in)
	}
}

func TestHostBlocked(t *testing.T) {
	t.Parallel()

	patterns := []string{"spam.example", "*.clickbait.example"}
	assert.True(t, hostBlocked("spam.example", patterns))
	assert.True(t, hostBlocked("www.spam.example", patterns))
	assert.True(t, hostBlocked("cdn.spam.example", patterns))
	assert.True(t, hostBlocked("daily.clickbait.example", patterns))
	assert.False(t, hostBlocked("notspam.example", patterns))
	assert.False(t, hostBlocked("news.example", patterns))
}
