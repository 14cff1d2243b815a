package parser

import (
	"net/url"
	"strings"
)

// paywallSegments match whole path segments, so /register-to-vote stays readable.
var paywallSegments = map[string]bool{
	"paywall":         true,
	"subscribe":       true,
	"subscription":    true,
	"subscriber-only": true,
	"premium":         true,
	"signin":          true,
	"sign-in":         true,
	"login":           true,
	"register":        true,
}

var paywallPhrases = []string{
	"subscribe to continue",
	"subscribe to read",
	"subscribers only",
	"for subscribers only",
	"this article is exclusive to subscribers",
	"sign in to continue reading",
	"log in to continue reading",
	"to continue reading, subscribe",
	"create a free account to continue",
	"you have reached your limit of free articles",
	"you've reached your free article limit",
	"start your subscription",
}

// IsPaywallURL reports whether a final URL points at a subscription or login wall.
func IsPaywallURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		if paywallSegments[segment] {
			return true
		}
	}
	for key, values := range u.Query() {
		if isWallWord(key) {
			return true
		}
		for _, v := range values {
			if isWallWord(v) {
				return true
			}
		}
	}
	return false
}

func isWallWord(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "paywall" || s == "subscribe"
}

// HasPaywallText reports whether page text carries subscription boilerplate.
func HasPaywallText(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range paywallPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
