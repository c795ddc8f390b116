// Package detector decides when an HTTP-fetched page should be re-rendered
// headlessly before addresses are extracted from it.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Promotion reasons reported by Reason.
const (
	ReasonEmptyBody     = "empty_body"
	ReasonScriptHeavy   = "script_heavy"
	ReasonAppShell      = "app_shell"
	ReasonObfuscatedKey = "obfuscated_email"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("data-v-app"),
}

// Contact pages that hide addresses until a script decodes them.
var obfuscationMarkers = [][]byte{
	[]byte("data-cfemail"),
	[]byte("__cf_email__"),
	[]byte("/cdn-cgi/l/email-protection"),
}

// ShouldPromote reports whether a headless fetch is worth it.
func (h *Heuristic) ShouldPromote(resp harvest.FetchResponse) bool {
	_, ok := h.Reason(resp)
	return ok
}

// Reason returns why resp should be promoted, if it should.
func (h *Heuristic) Reason(resp harvest.FetchResponse) (string, bool) {
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return ReasonEmptyBody, true
	}
	lower := bytes.ToLower(body)
	for _, marker := range obfuscationMarkers {
		if bytes.Contains(lower, marker) {
			return ReasonObfuscatedKey, true
		}
	}
	// Pages that already expose an address gain nothing from rendering.
	if bytes.Contains(lower, []byte("mailto:")) {
		return "", false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(string(lower)) {
		return ReasonScriptHeavy, true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(lower, marker) {
			return ReasonAppShell, true
		}
	}
	return "", false
}

// scriptDensityHigh reports whether <script> elements cover at least a quarter
// of the (lowercased) document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Unterminated tag: the rest is script.
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
