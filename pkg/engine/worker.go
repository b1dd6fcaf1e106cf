package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// requeueDelay spaces out retries for records whose tenant is at its
// concurrency limit.
const requeueDelay = 50 * time.Millisecond

// Start runs the worker pool until ctx is cancelled. It blocks; callers
// run it on its own goroutine or errgroup.
func (e *Engine) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	workers := e.cfg.Healing.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.runWorker(ctx)
		})
	}
	e.logger.Info("healing workers started", "workers", workers)
	return g.Wait()
}

// runWorker dequeues record ids and runs the healing pipeline for each.
// A record whose tenant has no free slot is requeued after a short delay
// instead of blocking the worker, so a burst from one tenant cannot stall
// every other tenant's records.
func (e *Engine) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-e.queue:
			e.dispatch(ctx, id)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, id types.RecordID) {
	rec, err := e.records.Get(ctx, id)
	if err != nil {
		e.logger.Error("failed to load queued record", "record", id.String(), "error", err)
		e.waiters.settle(id)
		return
	}

	if !e.limiter.TryAcquire(rec.TenantID) {
		go e.requeue(ctx, id)
		return
	}
	defer e.limiter.Release(rec.TenantID)

	unlock := e.locks.Lock(id)
	defer unlock()

	// The record may have been cancelled between enqueue and dequeue.
	rec, err = e.records.Get(ctx, id)
	if err != nil {
		e.logger.Error("failed to reload record", "record", id.String(), "error", err)
		e.waiters.settle(id)
		return
	}
	if rec.State != healing.StateDetected {
		e.waiters.settle(id)
		return
	}

	if err := e.heal(ctx, rec); err != nil {
		e.logger.Error("healing pipeline failed",
			"record", rec.ID.String(),
			"tenant", rec.TenantID.String(),
			"error", err)
		e.waiters.settle(id)
	}
}

func (e *Engine) requeue(ctx context.Context, id types.RecordID) {
	select {
	case <-ctx.Done():
	case <-time.After(requeueDelay):
		select {
		case e.queue <- id:
		case <-ctx.Done():
		}
	}
}

// waiterSet tracks SubmitAndWait callers. A record settles when it reaches
// PendingApproval or a terminal state, or when its pipeline errors out.
type waiterSet struct {
	mu sync.Mutex
	ch map[types.RecordID]chan struct{}
}

func newWaiterSet() *waiterSet {
	return &waiterSet{ch: make(map[types.RecordID]chan struct{})}
}

// wait returns a channel closed when the record settles. Settling before
// any waiter registers is fine: the channel comes back already closed.
func (w *waiterSet) wait(id types.RecordID) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.ch[id]
	if !ok {
		c = make(chan struct{})
		w.ch[id] = c
	}
	return c
}

func (w *waiterSet) settle(id types.RecordID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.ch[id]
	if !ok {
		// Nobody waited yet; leave a closed channel for late waiters.
		c = make(chan struct{})
		close(c)
		w.ch[id] = c
		return
	}
	select {
	case <-c:
	default:
		close(c)
	}
}
