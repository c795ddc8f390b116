// Package memory provides the in-process crawl task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = harvest.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations. The task
// channel is never closed, so Close racing an Enqueue cannot panic.
type Queue struct {
	tasks     chan harvest.CrawlTask
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		tasks: make(chan harvest.CrawlTask, max(capacity, 0)),
		done:  make(chan struct{}),
	}
}

// Enqueue pushes a task, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task harvest.CrawlTask) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.tasks <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Buffered tasks
// are still delivered after Close; ErrClosed follows once the buffer is empty.
func (q *Queue) Dequeue(ctx context.Context) (harvest.CrawlTask, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	default:
	}
	select {
	case <-ctx.Done():
		return harvest.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.tasks:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.tasks:
			return task, nil
		default:
			return harvest.CrawlTask{}, ErrClosed
		}
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Close stops new tasks from being accepted. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
