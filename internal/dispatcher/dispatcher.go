// Package dispatcher fans queued crawl sessions out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/worker"
)

// Runner is one consumer of the session queue.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool creates a Dispatcher over n workers sharing deps. Each worker logs
// with its index.
func NewPool(n int, deps worker.Deps, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n < 1 {
		n = 1
	}
	workers := make([]Runner, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(deps, cfg, logger.With(zap.Int("worker", i))))
	}
	return New(deps.Queue, workers)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every worker returns, which happens
// when ctx finishes or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// tryEnqueuer is a queue that can refuse work instead of blocking.
type tryEnqueuer interface {
	TryEnqueue(item crawler.QueueItem) error
}

// Enqueue proxies to the underlying queue. Queues with a non-blocking path
// fail fast with crawler.ErrQueueFull; others block until ctx ends.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	var err error
	if q, ok := d.queue.(tryEnqueuer); ok {
		err = q.TryEnqueue(item)
	} else {
		err = d.queue.Enqueue(ctx, item)
	}
	if err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
