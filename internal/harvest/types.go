package harvest

import (
	"net/http"
	"time"
)

// Method records how an address was found.
type Method string

// Extraction methods attached to records as notes.
const (
	MethodMailto       Method = "mailto"
	MethodText         Method = "text"
	MethodDomainSearch Method = "hunter_domain"
)

// Tier is the quality bucket assigned to each record.
type Tier string

// Quality tiers.
const (
	TierHigh   Tier = "High"
	TierMedium Tier = "Medium"
	TierLow    Tier = "Low"
)

// VerifyResult is the normalized outcome of a verification call.
type VerifyResult string

// Verification outcomes.
const (
	VerifyDeliverable   VerifyResult = "deliverable"
	VerifyUndeliverable VerifyResult = "undeliverable"
	VerifyRisky         VerifyResult = "risky"
	VerifyUnknown       VerifyResult = "unknown"
)

// Outcome tags a PageResult.
type Outcome string

// Page outcomes.
const (
	OutcomeOK            Outcome = "ok"
	OutcomeFailed        Outcome = "failed"
	OutcomeUnsupported   Outcome = "unsupported"
	OutcomeSkippedRobots Outcome = "skipped_robots"
	// OutcomeDuplicate marks a candidate already fetched earlier in the run.
	OutcomeDuplicate Outcome = "duplicate"
)

// CandidateURL is a URL produced by search (or seeds) and consumed once by the scheduler.
type CandidateURL struct {
	URL   string `json:"url"`
	Query string `json:"query,omitempty"`
	Rank  int    `json:"rank"`
}

// CrawlTask wraps one candidate for a single dispatch.
type CrawlTask struct {
	ID        string
	Candidate CandidateURL
	Attempt   int
	Submitted time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is what a fetch strategy returns on success.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// PageResult is either a fetched page or a tagged failure. It never carries an error value.
type PageResult struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Body         []byte
	Outcome      Outcome
	Reason       string
	Attempts     int
	UsedHeadless bool
}

// OK reports whether the page was fetched successfully.
func (p PageResult) OK() bool {
	return p.Outcome == OutcomeOK
}

// BaseURL is the URL links on the page resolve against.
func (p PageResult) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// Extraction is one sighting of an address on a source.
type Extraction struct {
	Email  string
	Source string
	Method Method
	// Note overrides the method label in record notes (e.g. "hunter_domain:92").
	Note   string
	SeenAt time.Time
}

// Label returns the note recorded for this extraction.
func (e Extraction) Label() string {
	if e.Note != "" {
		return e.Note
	}
	return string(e.Method)
}

// Verification is the enrichment provider's verdict for one address.
type Verification struct {
	Result     VerifyResult `json:"result"`
	Confidence *int         `json:"confidence,omitempty"`
}

// EmailRecord is the merged view of one canonical address.
type EmailRecord struct {
	Email        string        `json:"email"`
	FirstSource  string        `json:"first_seen_source"`
	Sources      []string      `json:"all_sources"`
	Domain       string        `json:"domain"`
	MXValid      bool          `json:"mx_ok"`
	Verification *Verification `json:"verification,omitempty"`
	Quality      Tier          `json:"quality"`
	FirstSeen    time.Time     `json:"first_seen"`
	Notes        []string      `json:"notes"`
}

// EmailDomain returns the part after '@'.
func (r EmailRecord) EmailDomain() string {
	for i := len(r.Email) - 1; i >= 0; i-- {
		if r.Email[i] == '@' {
			return r.Email[i+1:]
		}
	}
	return ""
}

// Progress is a point-in-time view of the crawl.
type Progress struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Fetched   int64 `json:"fetched"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Emails    int64 `json:"emails"`
}
