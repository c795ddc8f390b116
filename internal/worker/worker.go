// Package worker implements the per-candidate crawl pipeline.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/extract"
	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// Worker consumes crawl tasks: it fetches each candidate and its contact
// pages politely and merges every address it finds into the sink.
type Worker struct {
	id        int
	queue     harvest.Queue
	robots    harvest.RobotsPolicy
	delay     harvest.Delayer
	limiter   harvest.HostLimiter
	fetcher   harvest.PageFetcher
	extractor *extract.EmailExtractor
	links     *extract.LinkDiscoverer
	visited   *Visited
	sink      harvest.RecordSink
	tracker   harvest.Tracker
	clock     harvest.Clock
	logger    *zap.Logger
}

// New constructs a Worker. limiter and tracker may be nil. delay must be
// owned by this worker alone.
func New(
	id int,
	queue harvest.Queue,
	robots harvest.RobotsPolicy,
	delay harvest.Delayer,
	limiter harvest.HostLimiter,
	fetcher harvest.PageFetcher,
	extractor *extract.EmailExtractor,
	links *extract.LinkDiscoverer,
	visited *Visited,
	sink harvest.RecordSink,
	tracker harvest.Tracker,
	clock harvest.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		robots:    robots,
		delay:     delay,
		limiter:   limiter,
		fetcher:   fetcher,
		extractor: extractor,
		links:     links,
		visited:   visited,
		sink:      sink,
		tracker:   tracker,
		clock:     clock,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the queue is closed and drained or the context ends.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, harvest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.String("url", task.Candidate.URL))
		w.Process(ctx, task)
	}
}

// Process handles one candidate and the contact pages discovered on it.
func (w *Worker) Process(ctx context.Context, task harvest.CrawlTask) {
	target := task.Candidate.URL
	if w.visited != nil && !w.visited.FirstVisit(target) {
		w.logger.Debug("skipping url already visited", zap.String("task_id", task.ID), zap.String("url", target))
		w.done(harvest.OutcomeDuplicate, 0)
		return
	}
	page, emails := w.visit(ctx, target)
	if !page.OK() {
		w.done(page.Outcome, 0)
		return
	}

	for _, link := range w.links.Discover(page) {
		if ctx.Err() != nil {
			break
		}
		if w.visited != nil && !w.visited.FirstVisit(link) {
			continue
		}
		_, found := w.visit(ctx, link)
		emails += found
	}
	w.logger.Debug("task finished",
		zap.String("task_id", task.ID),
		zap.String("url", target),
		zap.Int("emails", emails),
	)
	w.done(harvest.OutcomeOK, emails)
}

// visit runs gate → delay → fetch → extract for one URL.
func (w *Worker) visit(ctx context.Context, rawURL string) (harvest.PageResult, int) {
	if w.robots != nil && !w.robots.Allowed(ctx, rawURL) {
		w.logger.Info("skipping url disallowed by robots.txt", zap.String("url", rawURL))
		metrics.ObservePage(rawURL, string(harvest.OutcomeSkippedRobots), 0)
		return harvest.PageResult{URL: rawURL, Outcome: harvest.OutcomeSkippedRobots, Reason: "robots"}, 0
	}
	if w.delay != nil {
		if err := w.delay.Wait(ctx); err != nil {
			return harvest.PageResult{URL: rawURL, Outcome: harvest.OutcomeFailed, Reason: harvest.ErrorLabel(err)}, 0
		}
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, rawURL); err != nil {
			return harvest.PageResult{URL: rawURL, Outcome: harvest.OutcomeFailed, Reason: harvest.ErrorLabel(err)}, 0
		}
	}

	page := w.fetcher.Fetch(ctx, rawURL)
	metrics.ObservePage(rawURL, string(page.Outcome), len(page.Body))
	if !page.OK() {
		return page, 0
	}

	found := w.extractor.Extract(page)
	seenAt := w.clock.Now()
	perMethod := make(map[harvest.Method]int, 2)
	for _, f := range found {
		w.sink.Merge(harvest.Extraction{
			Email:  f.Email,
			Source: rawURL,
			Method: f.Method,
			SeenAt: seenAt,
		})
		perMethod[f.Method]++
	}
	for method, n := range perMethod {
		metrics.ObserveEmails(string(method), n)
	}
	if len(found) > 0 {
		w.logger.Debug("emails extracted", zap.String("url", rawURL), zap.Int("count", len(found)))
	}
	return page, len(found)
}

func (w *Worker) done(outcome harvest.Outcome, emails int) {
	if w.tracker != nil {
		w.tracker.TaskDone(outcome, emails)
	}
}
