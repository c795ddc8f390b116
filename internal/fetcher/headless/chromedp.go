// Package headless contains the browser-backed fetch strategy for pages that
// only render their contact details with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

const (
	defaultNavTimeout = 25 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// Footers and lazy "contact us" blocks often load only once scrolled into view.
const scrollToEnd = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for late scripts.
	// Negative disables the wait.
	Settle time.Duration
}

// Fetcher implements harvest.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser
// process starts lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)

	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		// Addresses live in markup; skip image decoding entirely.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	switch {
	case cfg.Settle < 0:
		cfg.Settle = 0
	case cfg.Settle == 0:
		cfg.Settle = defaultSettle
	}
	return cfg
}

// Close cancels the allocator context and shuts the browser down.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// Fetch navigates with a headless browser and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if !harvest.IsHTTPURL(request.URL) {
		return harvest.FetchResponse{}, fmt.Errorf("%w: %s", harvest.ErrUnsupportedURL, request.URL)
	}
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return harvest.FetchResponse{}, fmt.Errorf("headless slot wait canceled: %w", err)
		}
		defer f.slots.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, finalURL string
	if err := chromedp.Run(tabCtx, f.actions(request.Headers, request.URL, &html, &finalURL)...); err != nil {
		if ctx.Err() != nil {
			return harvest.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return harvest.FetchResponse{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := doc.result(request.URL, finalURL)
	resp := harvest.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if status >= http.StatusBadRequest {
		return resp, harvest.StatusError{Code: status}
	}
	return resp, nil
}

func (f *Fetcher) actions(headers http.Header, url string, html, finalURL *string) []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
	}
	if f.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	if len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(toNetworkHeaders(headers)))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(scrollToEnd, nil),
	)
	if f.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.Settle))
	}
	return append(actions,
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

// documentResponse keeps the first document response the tab receives.
// Later document responses belong to iframes.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(event.Response.Status)
	d.headers = fromNetworkHeaders(event.Response.Headers)
	d.url = event.Response.URL
}

// result fills gaps with what the browser reported after navigation. A page
// served from cache or a service worker may never emit a document response.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, headers, url := d.status, d.headers.Clone(), d.url
	if finalURL != "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
