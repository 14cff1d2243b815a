package usecase

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "dclid": true, "yclid": true, "msclkid": true,
	"mc_cid": true, "mc_eid": true, "igshid": true, "ref": true, "ref_src": true,
	"_hsenc": true, "_hsmi": true, "cmpid": true, "ocid": true,
}

// CanonicalURL normalizes a URL for deduplication: lowercase scheme and host,
// no default port, no fragment, no tracking parameters, sorted query and no
// trailing slash. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	u.ForceQuery = false

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// hostBlocked reports whether host equals a pattern, is a subdomain of it, or
// matches it as a glob.
func hostBlocked(host string, patterns []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), "www.")
		if p == "" {
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
		if strings.ContainsAny(p, "*?[") {
			if ok, err := path.Match(p, host); err == nil && ok {
				return true
			}
		}
	}
	return false
}
