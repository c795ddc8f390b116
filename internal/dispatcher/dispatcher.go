// Package dispatcher fans crawl tasks out to a fixed pool of workers and
// tracks run progress.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Runner is a worker loop that returns once the queue is drained or ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// WorkerFactory builds the worker with the given index, reporting to tracker.
type WorkerFactory func(id int, tracker harvest.Tracker) Runner

// Dispatcher feeds candidates into the queue and waits for the pool to finish.
type Dispatcher struct {
	queue   harvest.Queue
	workers int
	factory WorkerFactory
	ids     harvest.IDGenerator
	clock   harvest.Clock
	logger  *zap.Logger

	total     atomic.Int64
	completed atomic.Int64
	fetched   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	emails    atomic.Int64
}

// New creates a Dispatcher. ids and clock may be nil.
func New(
	queue harvest.Queue,
	workers int,
	factory WorkerFactory,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		factory: factory,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Run enqueues every candidate once, closes the queue and blocks until all
// workers have drained it. It only returns an error when ctx ends first.
func (d *Dispatcher) Run(ctx context.Context, candidates []harvest.CandidateURL) error {
	d.total.Add(int64(len(candidates)))

	var wg sync.WaitGroup
	for i := range d.workers {
		runner := d.factory(i, d)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	var enqueueErr error
	for i, candidate := range candidates {
		if err := d.Enqueue(ctx, d.task(i, candidate)); err != nil {
			enqueueErr = err
			break
		}
	}
	d.queue.Close()
	wg.Wait()

	p := d.Progress()
	d.logger.Info("crawl finished",
		zap.Int64("total", p.Total),
		zap.Int64("completed", p.Completed),
		zap.Int64("fetched", p.Fetched),
		zap.Int64("skipped", p.Skipped),
		zap.Int64("failed", p.Failed),
		zap.Int64("emails", p.Emails),
	)
	if enqueueErr != nil {
		return enqueueErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task harvest.CrawlTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) task(i int, candidate harvest.CandidateURL) harvest.CrawlTask {
	task := harvest.CrawlTask{Candidate: candidate, Attempt: 1}
	if d.ids != nil {
		if id, err := d.ids.NewID(); err == nil {
			task.ID = id
		} else {
			d.logger.Warn("task id generation failed", zap.Error(err))
		}
	}
	if task.ID == "" {
		task.ID = "task-" + strconv.Itoa(i)
	}
	if d.clock != nil {
		task.Submitted = d.clock.Now()
	}
	return task
}

// TaskDone implements harvest.Tracker.
func (d *Dispatcher) TaskDone(outcome harvest.Outcome, emails int) {
	switch outcome {
	case harvest.OutcomeOK:
		d.fetched.Add(1)
	case harvest.OutcomeSkippedRobots, harvest.OutcomeDuplicate:
		d.skipped.Add(1)
	default:
		d.failed.Add(1)
	}
	d.emails.Add(int64(emails))
	d.completed.Add(1)
}

// Completed returns how many tasks have finished. It never decreases.
func (d *Dispatcher) Completed() int64 {
	return d.completed.Load()
}

// Progress returns a snapshot of the run counters.
func (d *Dispatcher) Progress() harvest.Progress {
	return harvest.Progress{
		Total:     d.total.Load(),
		Completed: d.completed.Load(),
		Fetched:   d.fetched.Load(),
		Skipped:   d.skipped.Load(),
		Failed:    d.failed.Load(),
		Emails:    d.emails.Load(),
	}
}
