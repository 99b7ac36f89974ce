// Package workqueue implements the bounded work queue used for downstream
// conversion: at most Limit tasks run at once, and new tasks are only admitted
// while the shared actively-working flag is set.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratestate"
)

// ErrInvalidLimit is returned for concurrency limits below 1.
var ErrInvalidLimit = errors.New("concurrency limit must be >= 1")

// Task is one unit of admitted work.
type Task func(ctx context.Context) error

// Queue is a counting gate with a runtime-adjustable limit.
type Queue struct {
	state  *ratestate.State
	logger *zap.Logger

	mu       sync.Mutex
	limit    int
	inFlight int
	notify   chan struct{}

	// ctx bounds background batches; Close cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// New builds a Queue admitting at most limit tasks at once.
func New(limit int, state *ratestate.State, logger *zap.Logger) (*Queue, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if state == nil {
		state = ratestate.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		state:  state,
		logger: logger,
		limit:  limit,
		notify: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// SetConcurrencyLimit changes the cap. In-flight tasks are not interrupted;
// a lower cap only delays further admissions.
func (q *Queue) SetConcurrencyLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("set concurrency limit %d: %w", n, ErrInvalidLimit)
	}
	q.mu.Lock()
	old := q.limit
	q.limit = n
	q.broadcastLocked()
	q.mu.Unlock()
	q.logger.Info("concurrency limit changed", zap.Int("from", old), zap.Int("to", n))
	return nil
}

// SetActivelyWorking toggles admission through the shared state.
func (q *Queue) SetActivelyWorking(on bool) {
	q.state.SetActivelyWorking(on)
}

// Limit returns the current cap.
func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// InFlight returns the number of admitted, unfinished tasks.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Acquire blocks until a slot is free and work is active, or ctx ends.
func (q *Queue) Acquire(ctx context.Context) error {
	for {
		stateChanged := q.state.Changed()
		active := q.state.Snapshot().ActivelyWorking

		q.mu.Lock()
		if active && q.inFlight < q.limit {
			q.inFlight++
			metrics.SetConvertInFlight(q.inFlight)
			q.mu.Unlock()
			return nil
		}
		slotFreed := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire work slot: %w", ctx.Err())
		case <-slotFreed:
		case <-stateChanged:
		}
	}
}

// Release returns a slot taken by Acquire.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == 0 {
		q.logger.Error("release without matching acquire")
		return
	}
	q.inFlight--
	metrics.SetConvertInFlight(q.inFlight)
	q.broadcastLocked()
}

// Do runs task once admitted.
func (q *Queue) Do(ctx context.Context, task Task) error {
	if err := q.Acquire(ctx); err != nil {
		return err
	}
	defer q.Release()
	return task(ctx)
}

func (q *Queue) broadcastLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Group submits many tasks through the queue and waits for all of them.
type Group struct {
	q   *Queue
	ctx context.Context
	g   errgroup.Group
}

// Group starts a task group bound to ctx.
func (q *Queue) Group(ctx context.Context) *Group {
	return &Group{q: q, ctx: ctx}
}

// Go schedules task; it waits for admission in its own goroutine.
func (g *Group) Go(task Task) {
	g.g.Go(func() error {
		return g.q.Do(g.ctx, task)
	})
}

// Wait blocks until every task finished and returns the first error.
func (g *Group) Wait() error {
	if err := g.g.Wait(); err != nil {
		return fmt.Errorf("work group: %w", err)
	}
	return nil
}

// Submit runs tasks as one background batch bound to the queue's lifetime
// rather than the caller's, and returns at once. done, when set, receives the
// batch result after every task finished or gave up waiting for admission.
func (q *Queue) Submit(tasks []Task, done func(error)) {
	if len(tasks) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}
	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		g := q.Group(q.ctx)
		for _, task := range tasks {
			g.Go(task)
		}
		err := g.Wait()
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every submitted batch has finished, or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for submitted work: %w", ctx.Err())
	}
}

// Close abandons batches still waiting for admission and waits for the
// running ones to return.
func (q *Queue) Close(ctx context.Context) error {
	q.cancel()
	return q.Wait(ctx)
}
