// Package collyfetcher implements the plain HTTP fetch strategy using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

const defaultTimeout = 15 * time.Second

// DefaultContentTypes are the media types worth scanning for addresses.
var DefaultContentTypes = []string{"text/html", "application/xhtml+xml", "text/plain"}

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	// ContentTypes limits which successful responses are downloaded. Anything
	// else is aborted after the headers arrive. Empty means DefaultContentTypes.
	ContentTypes []string
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	base      *colly.Collector
	accept    map[string]struct{}
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport swaps the HTTP transport (tests inject httpmock here).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// New builds a Fetcher. robots.txt is enforced upstream, so the collector ignores it.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = DefaultContentTypes
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		accept:    make(map[string]struct{}, len(cfg.ContentTypes)),
	}
	for _, ct := range cfg.ContentTypes {
		f.accept[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(f.transport)
	f.base = c
	return f
}

// visit is the state of one Fetch call. Collector callbacks fill it in.
type visit struct {
	request  harvest.FetchRequest
	start    time.Time
	resp     harvest.FetchResponse
	err      error
	rejected string
}

// Fetch executes a single HTTP GET using Colly. Statuses >= 400 come back as
// harvest.StatusError so the retry policy can classify them.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if !harvest.IsHTTPURL(request.URL) {
		return harvest.FetchResponse{}, fmt.Errorf("%w: %s", harvest.ErrUnsupportedURL, request.URL)
	}
	v := &visit{request: request, start: time.Now()}
	collector := f.collectorFor(v)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return harvest.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case visitErr = <-done:
	}

	switch {
	case v.rejected != "":
		return harvest.FetchResponse{}, fmt.Errorf("%w: %s", harvest.ErrUnsupportedContent, v.rejected)
	case v.err != nil:
		return harvest.FetchResponse{}, fmt.Errorf("colly response failed: %w", v.err)
	case visitErr != nil:
		return harvest.FetchResponse{}, fmt.Errorf("colly visit failed: %w", visitErr)
	}
	if v.resp.StatusCode >= http.StatusBadRequest {
		return v.resp, harvest.StatusError{Code: v.resp.StatusCode}
	}
	return v.resp, nil
}

// collectorFor clones the base collector and binds its callbacks to v.
func (f *Fetcher) collectorFor(v *visit) *colly.Collector {
	c := f.base.Clone()
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)

	c.OnRequest(func(r *colly.Request) {
		for key, values := range v.request.Headers {
			for _, value := range values {
				r.Headers.Add(key, value)
			}
		}
	})
	c.OnResponseHeaders(func(r *colly.Response) {
		if r.StatusCode >= http.StatusBadRequest {
			return
		}
		if ct, ok := f.acceptable(r.Headers.Get("Content-Type")); !ok {
			v.rejected = ct
			r.Request.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		v.resp = harvest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(v.start),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if errors.Is(err, colly.ErrAbortedAfterHeaders) && v.rejected != "" {
			return
		}
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			v.err = fmt.Errorf("%w: %v", harvest.StatusError{Code: r.StatusCode}, err)
			return
		}
		v.err = err
	})
	return c
}

// acceptable reports whether a Content-Type header is worth downloading.
// A missing header is accepted and left to body sniffing.
func (f *Fetcher) acceptable(header string) (string, bool) {
	if strings.TrimSpace(header) == "" {
		return "", true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return header, false
	}
	_, ok := f.accept[mediaType]
	return mediaType, ok
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
