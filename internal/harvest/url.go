package harvest

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// IsHTTPURL reports whether raw is an absolute http(s) URL with a host.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// DedupeKey is the identity used to collapse near-duplicate candidate URLs:
// the URL without its query string and trailing slash.
func DedupeKey(raw string) string {
	key, _, _ := strings.Cut(raw, "?")
	key, _, _ = strings.Cut(key, "#")
	return strings.TrimRight(strings.ToLower(key), "/")
}

// NormalizeCandidates keeps absolute http(s) URLs, normalized, in first-seen order,
// dropping entries whose DedupeKey was already seen (in this call or in seen).
func NormalizeCandidates(urls []string, seen map[string]struct{}) []string {
	if seen == nil {
		seen = make(map[string]struct{}, len(urls))
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if !IsHTTPURL(raw) {
			continue
		}
		normalized, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		key := DedupeKey(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// SourceDomain returns the lowercase host of rawURL without port or a leading "www.".
func SourceDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
