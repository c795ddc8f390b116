// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	robotsFetchesTotal         *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	emailsExtractedTotal       *prometheus.CounterVec
	enrichmentCallsTotal       *prometheus.CounterVec
	enrichmentBudgetRemaining  prometheus.Gauge
	mxLookupsTotal             *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		robotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_robots_fetches_total",
				Help: "robots.txt fetches, labeled by status.",
			},
			[]string{"status"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_search_requests_total",
				Help: "Search provider calls, labeled by provider and status.",
			},
			[]string{"provider", "status"},
		)

		emailsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_emails_extracted_total",
				Help: "Addresses extracted (before deduplication), labeled by method.",
			},
			[]string{"method"},
		)

		enrichmentCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_enrichment_calls_total",
				Help: "Enrichment provider calls, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		enrichmentBudgetRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_enrichment_budget_remaining",
				Help: "Verification calls left in this run's budget.",
			},
		)

		mxLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_mx_lookups_total",
				Help: "DNS MX lookups performed, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one processed page.
func ObservePage(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRobotsFetch counts robots.txt fetches.
func ObserveRobotsFetch(status string) {
	Init()
	robotsFetchesTotal.WithLabelValues(status).Inc()
}

// ObserveSearch counts one provider call.
func ObserveSearch(provider, status string) {
	Init()
	searchRequestsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveEmails counts extracted addresses for one method.
func ObserveEmails(method string, n int) {
	Init()
	if n > 0 {
		emailsExtractedTotal.WithLabelValues(method).Add(float64(n))
	}
}

// ObserveEnrichment counts one enrichment call.
func ObserveEnrichment(kind, status string) {
	Init()
	enrichmentCallsTotal.WithLabelValues(kind, status).Inc()
}

// SetBudgetRemaining publishes the current enrichment budget.
func SetBudgetRemaining(n int64) {
	Init()
	enrichmentBudgetRemaining.Set(float64(n))
}

// ObserveMXLookup counts one DNS lookup.
func ObserveMXLookup(valid bool) {
	Init()
	mxLookupsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
