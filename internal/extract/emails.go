package extract

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
	"golang.org/x/net/html"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Found is one address extracted from a page, tagged with how it was found.
type Found struct {
	Email  string
	Method harvest.Method
}

// EmailFilter returns false for addresses that should be dropped.
type EmailFilter func(string) bool

// EmailExtractor finds addresses in mailto links and visible text.
type EmailExtractor struct {
	filter EmailFilter
}

// NewEmailExtractor builds an extractor; a nil filter uses DefaultEmailFilter.
func NewEmailExtractor(filter EmailFilter) *EmailExtractor {
	if filter == nil {
		filter = DefaultEmailFilter
	}
	return &EmailExtractor{filter: filter}
}

// Extract returns canonical addresses unique per (email, method), sorted.
func (e *EmailExtractor) Extract(page harvest.PageResult) []Found {
	if !page.OK() || len(page.Body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil
	}

	seen := make(map[Found]struct{})
	var out []Found
	add := func(raw string, method harvest.Method) {
		email, ok := e.canonical(raw)
		if !ok {
			return
		}
		f := Found{Email: email, Method: method}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		for _, addr := range mailtoRecipients(href) {
			add(addr, harvest.MethodMailto)
		}
	})

	text := visibleText(doc)
	for _, addr := range emailaddress.Find([]byte(text), false) {
		add(addr.String(), harvest.MethodText)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Email != out[j].Email {
			return out[i].Email < out[j].Email
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (e *EmailExtractor) canonical(raw string) (string, bool) {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	candidate = strings.Trim(candidate, ".,;:<>()[]\"'")
	if candidate == "" {
		return "", false
	}
	addr, err := emailaddress.Parse(candidate)
	if err != nil {
		return "", false
	}
	if !validDomain(addr.Domain) {
		return "", false
	}
	email := strings.ToLower(addr.String())
	if !e.filter(email) {
		return "", false
	}
	return email, true
}

// validDomain requires a dotted domain ending in an alphabetic TLD of two or more letters.
func validDomain(domain string) bool {
	idx := strings.LastIndex(domain, ".")
	if idx <= 0 || idx == len(domain)-1 {
		return false
	}
	tld := domain[idx+1:]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return !strings.Contains(domain, "..")
}

// mailtoRecipients parses "mailto:a@x.com,b@y.com?subject=hi".
func mailtoRecipients(href string) []string {
	href = strings.TrimSpace(href)
	if len(href) < len("mailto:") || !strings.EqualFold(href[:len("mailto:")], "mailto:") {
		return nil
	}
	value := href[len("mailto:"):]
	value, _, _ = strings.Cut(value, "?")
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultEmailFilter drops asset filenames and reserved test domains that look like addresses.
func DefaultEmailFilter(email string) bool {
	lower := strings.ToLower(email)

	for _, ext := range []string{".png", ".webp", ".jpg", ".jpeg", ".gif", ".svg", ".css", ".js"} {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	if strings.Contains(lower, "@2x.") || strings.Contains(lower, "@3x.") {
		return false
	}
	if strings.Contains(lower, "sentry.wixpress.com") || strings.Contains(lower, "sentry-next.wixpress.com") {
		return false
	}

	_, domain, ok := strings.Cut(lower, "@")
	if !ok {
		return false
	}
	for _, suffix := range []string{".local", ".test", ".example", ".invalid", ".localhost"} {
		if strings.HasSuffix(domain, suffix) {
			return false
		}
	}
	return true
}

var invisibleTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"head":     {},
}

// visibleText joins text nodes with spaces so adjacent elements do not run together.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := invisibleTags[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return b.String()
}
