// Package app runs one harvest: discovery, crawl, validation, enrichment and scoring.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/email-harvester/internal/dispatcher"
	"github.com/JakeFAU/email-harvester/internal/enrich"
	"github.com/JakeFAU/email-harvester/internal/extract"
	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/queue/memory"
	"github.com/JakeFAU/email-harvester/internal/scoring"
	"github.com/JakeFAU/email-harvester/internal/search"
	storemem "github.com/JakeFAU/email-harvester/internal/storage/memory"
	"github.com/JakeFAU/email-harvester/internal/telemetry"
	"github.com/JakeFAU/email-harvester/internal/worker"
)

// SeedQuery tags candidates that came from a seeds file.
const SeedQuery = "seed"

// Input is what a run harvests: seed URLs, or categories to search for.
type Input struct {
	Categories []string
	Seeds      []string
}

// Discovery turns categories into candidate URLs.
type Discovery struct {
	Searcher        search.Searcher
	ResultsPerQuery int
	QueryDelay      harvest.Delayer
}

// Crawl holds the per-page pipeline shared by all workers.
type Crawl struct {
	Workers     int
	QueueDepth  int
	VisitedSize int
	Robots      harvest.RobotsPolicy
	// NewDelay returns the jitter source for one worker.
	NewDelay  func(worker int) harvest.Delayer
	Limiter   harvest.HostLimiter
	Fetcher   harvest.PageFetcher
	Extractor *extract.EmailExtractor
	Links     *extract.LinkDiscoverer
}

// Result is everything a finished run produced.
type Result struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Candidates int                   `json:"candidates"`
	Progress   harvest.Progress      `json:"progress"`
	Plan       enrich.Plan           `json:"enrichment"`
	Records    []harvest.EmailRecord `json:"-"`
}

// Summary counts records per quality tier.
func (r Result) Summary() map[harvest.Tier]int {
	out := map[harvest.Tier]int{harvest.TierHigh: 0, harvest.TierMedium: 0, harvest.TierLow: 0}
	for _, rec := range r.Records {
		out[rec.Quality]++
	}
	return out
}

// Harvester wires the stages of a run together.
type Harvester struct {
	discovery     Discovery
	crawl         Crawl
	mx            harvest.MXValidator
	mxConcurrency int
	gate          *enrich.Gate
	ids           harvest.IDGenerator
	clock         harvest.Clock
	logger        *zap.Logger

	current atomic.Pointer[dispatcher.Dispatcher]
}

// New builds a Harvester. gate must not be nil; use enrich.ModeOff to disable enrichment.
func New(
	discovery Discovery,
	crawl Crawl,
	mx harvest.MXValidator,
	mxConcurrency int,
	gate *enrich.Gate,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mxConcurrency <= 0 {
		mxConcurrency = 8
	}
	return &Harvester{
		discovery:     discovery,
		crawl:         crawl,
		mx:            mx,
		mxConcurrency: mxConcurrency,
		gate:          gate,
		ids:           ids,
		clock:         clock,
		logger:        logger,
	}
}

// Progress reports crawl counters for the run in flight (zero before it starts).
func (h *Harvester) Progress() harvest.Progress {
	if d := h.current.Load(); d != nil {
		return d.Progress()
	}
	return harvest.Progress{}
}

// Run executes one harvest. Failures in individual stages degrade the result
// instead of aborting it; a canceled ctx returns the partial result with ctx's error.
func (h *Harvester) Run(ctx context.Context, in Input) (Result, error) {
	res := Result{StartedAt: h.now()}
	if h.ids != nil {
		id, err := h.ids.NewID()
		if err != nil {
			return res, fmt.Errorf("run id: %w", err)
		}
		res.RunID = id
	}
	logger := h.logger.With(zap.String("run_id", res.RunID))
	h.resetRunCaches()
	ctx, span := telemetry.Tracer().Start(ctx, "harvest.run")
	span.SetAttributes(attribute.String("run_id", res.RunID))
	defer span.End()

	candidates := h.candidates(ctx, in)
	res.Candidates = len(candidates)
	logger.Info("candidates ready", zap.Int("count", len(candidates)), zap.Bool("seeds", len(in.Seeds) > 0))

	store := storemem.NewRecordStore()
	crawlCtx, crawlSpan := telemetry.Tracer().Start(ctx, "harvest.crawl")
	crawlErr := h.runCrawl(crawlCtx, candidates, store)
	if crawlErr != nil {
		logger.Warn("crawl ended early", zap.Error(crawlErr))
		crawlSpan.RecordError(crawlErr)
		crawlSpan.SetStatus(codes.Error, "crawl interrupted")
	}
	crawlSpan.End()
	res.Progress = h.Progress()

	budget := h.gate.RunBudget()
	targets := enrich.UniqueDomains(candidateURLs(candidates))
	if crawlErr == nil {
		if n := h.gate.DiscoverDomains(ctx, budget, targets, store); n > 0 {
			logger.Info("domain search added extractions", zap.Int("count", n))
		}
	}

	records := store.Snapshot()
	h.validateMX(ctx, records)

	res.Plan = h.gate.Plan(records, len(targets))
	logger.Info("enrichment plan",
		zap.String("mode", string(res.Plan.Mode)),
		zap.Int("eligible", res.Plan.Eligible),
		zap.Int("verify_calls", res.Plan.VerifyCalls),
		zap.Int("domain_search_calls", res.Plan.DomainSearchCalls),
	)
	if crawlErr == nil {
		enrich.Apply(records, h.gate.Verify(ctx, budget, records))
	}

	scoring.ScoreRecords(records)
	res.Records = records
	res.FinishedAt = h.now()
	summary := res.Summary()
	span.SetAttributes(
		attribute.Int("candidates", res.Candidates),
		attribute.Int("records", len(records)),
		attribute.Int("verify_calls", res.Plan.VerifyCalls),
	)
	logger.Info("harvest finished",
		zap.Int("records", len(records)),
		zap.Int("high", summary[harvest.TierHigh]),
		zap.Int("medium", summary[harvest.TierMedium]),
		zap.Int("low", summary[harvest.TierLow]),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, crawlErr
}

// runScoped is implemented by collaborators that memoize per run.
type runScoped interface {
	Reset()
}

// resetRunCaches clears the MX and robots.txt memos left by a previous run.
func (h *Harvester) resetRunCaches() {
	for _, c := range []any{h.mx, h.crawl.Robots} {
		if r, ok := c.(runScoped); ok {
			r.Reset()
		}
	}
}

// candidates uses seeds when present and search otherwise.
func (h *Harvester) candidates(ctx context.Context, in Input) []harvest.CandidateURL {
	if len(in.Seeds) > 0 {
		urls := harvest.NormalizeCandidates(in.Seeds, nil)
		out := make([]harvest.CandidateURL, len(urls))
		for i, u := range urls {
			out[i] = harvest.CandidateURL{URL: u, Query: SeedQuery, Rank: i}
		}
		return out
	}
	if h.discovery.Searcher == nil {
		h.logger.Warn("no seeds and no search providers configured")
		return nil
	}
	queries := search.BuildQueries(in.Categories)
	return search.Collect(ctx, h.discovery.Searcher, queries, h.discovery.ResultsPerQuery, h.discovery.QueryDelay)
}

func (h *Harvester) runCrawl(ctx context.Context, candidates []harvest.CandidateURL, sink harvest.RecordSink) error {
	visited, err := worker.NewVisited(h.crawl.VisitedSize)
	if err != nil {
		return err
	}
	queue := memory.NewQueue(h.crawl.QueueDepth)
	factory := func(id int, tracker harvest.Tracker) dispatcher.Runner {
		var delay harvest.Delayer
		if h.crawl.NewDelay != nil {
			delay = h.crawl.NewDelay(id)
		}
		return worker.New(id, queue, h.crawl.Robots, delay, h.crawl.Limiter, h.crawl.Fetcher,
			h.crawl.Extractor, h.crawl.Links, visited, sink, tracker, h.clock, h.logger.Named("worker"))
	}
	d := dispatcher.New(queue, h.crawl.Workers, factory, h.ids, h.clock, h.logger.Named("dispatcher"))
	h.current.Store(d)
	return d.Run(ctx, candidates)
}

// validateMX resolves each distinct email domain once, in parallel.
func (h *Harvester) validateMX(ctx context.Context, records []harvest.EmailRecord) {
	if h.mx == nil || len(records) == 0 {
		return
	}
	domains := make(map[string]bool)
	var unique []string
	for _, rec := range records {
		d := rec.EmailDomain()
		if _, ok := domains[d]; !ok {
			domains[d] = false
			unique = append(unique, d)
		}
	}
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.mxConcurrency)
	for _, domain := range unique {
		eg.Go(func() error {
			valid := h.mx.IsMXValid(egCtx, domain)
			mu.Lock()
			domains[domain] = valid
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	for i := range records {
		records[i].MXValid = domains[records[i].EmailDomain()]
	}
}

func (h *Harvester) now() time.Time {
	if h.clock == nil {
		return time.Now().UTC()
	}
	return h.clock.Now()
}

func candidateURLs(candidates []harvest.CandidateURL) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.URL
	}
	return out
}
