package search

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// DefaultDuckDuckGoEndpoints are tried in order until one yields results.
var DefaultDuckDuckGoEndpoints = []string{
	"https://html.duckduckgo.com/html/",
	"https://duckduckgo.com/html/",
}

// DuckDuckGo scrapes the keyless HTML results page.
type DuckDuckGo struct {
	client    *http.Client
	endpoints []string
	userAgent string
	delay     harvest.Delayer
}

// NewDuckDuckGo builds the provider. delay (may be nil) is applied between endpoints.
func NewDuckDuckGo(client *http.Client, endpoints []string, userAgent string, delay harvest.Delayer) *DuckDuckGo {
	if len(endpoints) == 0 {
		endpoints = DefaultDuckDuckGoEndpoints
	}
	return &DuckDuckGo{client: client, endpoints: endpoints, userAgent: userAgent, delay: delay}
}

// Name implements harvest.SearchProvider.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search implements harvest.SearchProvider.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	headers := http.Header{}
	if d.userAgent != "" {
		headers.Set("User-Agent", d.userAgent)
	}

	var errs []error
	for i, endpoint := range d.endpoints {
		if i > 0 && d.delay != nil {
			if err := d.delay.Wait(ctx); err != nil {
				return nil, err
			}
		}
		body, err := getBody(ctx, d.client, d.Name(), endpoint, params, headers)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		urls, err := parseDuckDuckGo(body, limit)
		if err != nil {
			errs = append(errs, &harvest.ProviderError{Provider: d.Name(), Err: err})
			continue
		}
		if len(urls) > 0 {
			return urls, nil
		}
	}
	if len(errs) == len(d.endpoints) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

func parseDuckDuckGo(body []byte, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(harvest.ErrMalformedResponse, err)
	}
	// Each result is linked twice (title and display URL), so limit counts distinct pages.
	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		target := decodeDuckDuckGoHref(strings.TrimSpace(href))
		if target == "" {
			return true
		}
		lower := strings.ToLower(target)
		if strings.HasPrefix(lower, "javascript:") || strings.Contains(lower, "duckduckgo.com") {
			return true
		}
		if !strings.HasPrefix(lower, "http") {
			return true
		}
		key := harvest.DedupeKey(target)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, target)
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

// decodeDuckDuckGoHref unwraps "//duckduckgo.com/l/?uddg=<encoded>&rut=..." redirects.
func decodeDuckDuckGoHref(href string) string {
	if href == "" || !strings.Contains(href, "uddg=") {
		return href
	}
	if u, err := url.Parse(href); err == nil {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	_, encoded, _ := strings.Cut(href, "uddg=")
	encoded, _, _ = strings.Cut(encoded, "&")
	if decoded, err := url.QueryUnescape(encoded); err == nil {
		return decoded
	}
	return ""
}
