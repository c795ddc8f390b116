package harvest

import (
	"context"
	"io"
	"time"
)

// SearchProvider returns result URLs for one query. A nil error with an empty
// slice means "no results"; quota and auth failures wrap ErrQuota / ErrAuth.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageFetcher never fails; errors become tagged PageResults.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) PageResult
}

// RobotsPolicy decides whether robots.txt permits a fetch.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Delayer blocks for the politeness interval before a fetch.
type Delayer interface {
	Wait(ctx context.Context) error
}

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RecordSink receives extractions from concurrent producers.
type RecordSink interface {
	Merge(extraction Extraction)
}

// MXValidator reports whether a domain can receive mail.
type MXValidator interface {
	IsMXValid(ctx context.Context, domain string) bool
}

// DomainEmail is one address returned by a domain search.
type DomainEmail struct {
	Email      string
	Confidence *int
}

// Enricher is the paid enrichment provider.
type Enricher interface {
	DomainSearch(ctx context.Context, domain string, limit int) ([]DomainEmail, error)
	Verify(ctx context.Context, email string) (Verification, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task CrawlTask) error
	Dequeue(ctx context.Context) (CrawlTask, error)
	Close()
}

// Tracker receives per-task outcomes from workers.
type Tracker interface {
	TaskDone(outcome Outcome, emails int)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore stores exported artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
