// Package extract pulls contact links and email addresses out of fetched pages.
package extract

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// DefaultMaxLinks bounds how many contact pages are followed per seed.
const DefaultMaxLinks = 5

// contactHints are matched against link paths, in priority order.
var contactHints = []string{
	"contact-us",
	"contact",
	"get-in-touch",
	"about",
	"team",
	"author",
	"bio",
	"profile",
}

// textHints are matched against anchor text when the path says nothing.
var textHints = []string{
	"contact",
	"get in touch",
	"about",
	"team",
}

// LinkDiscoverer finds same-site contact/about links, one level deep.
type LinkDiscoverer struct {
	maxLinks int
}

// NewLinkDiscoverer builds a discoverer; maxLinks <= 0 uses DefaultMaxLinks.
func NewLinkDiscoverer(maxLinks int) *LinkDiscoverer {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &LinkDiscoverer{maxLinks: maxLinks}
}

type rankedLink struct {
	url   string
	rank  int
	order int
}

// Discover returns ranked, deduplicated, same-site contact links for page.
// Equal input HTML always yields the same ordered output.
func (d *LinkDiscoverer) Discover(page harvest.PageResult) []string {
	if !page.OK() || len(page.Body) == 0 {
		return nil
	}
	base, err := url.Parse(page.BaseURL())
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, rerr := base.Parse(strings.TrimSpace(href)); rerr == nil {
			base = resolved
		}
	}

	self := harvest.DedupeKey(base.String())
	seen := map[string]struct{}{self: {}}
	var links []rankedLink

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}
		target, err := base.Parse(href)
		if err != nil {
			return
		}
		target.Fragment = ""
		target.RawFragment = ""
		if target.Scheme != "http" && target.Scheme != "https" {
			return
		}
		if !sameSite(base.Hostname(), target.Hostname()) {
			return
		}
		rank, ok := hintRank(target.EscapedPath(), s.Text())
		if !ok {
			return
		}
		normalized, err := harvest.NormalizeURL(target.String())
		if err != nil {
			return
		}
		key := harvest.DedupeKey(normalized)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, rankedLink{url: normalized, rank: rank, order: i})
	})

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].rank != links[j].rank {
			return links[i].rank < links[j].rank
		}
		return links[i].order < links[j].order
	})
	if len(links) > d.maxLinks {
		links = links[:d.maxLinks]
	}
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.url
	}
	return out
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "data:", "sms:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func hintRank(path, text string) (int, bool) {
	lowerPath := strings.ToLower(path)
	for i, hint := range contactHints {
		if strings.Contains(lowerPath, "/"+hint) {
			return i, true
		}
	}
	lowerText := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for i, hint := range textHints {
		if strings.Contains(lowerText, hint) {
			return len(contactHints) + i, true
		}
	}
	return 0, false
}

// sameSite compares registrable domains, falling back to exact host equality
// for IPs and hosts without a public suffix.
func sameSite(a, b string) bool {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return true
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(a)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}
