// Package scheduler admits, queues, and batches upstream fetches under the
// quota counter's windows. It owns ordering and concurrency; retry and
// fallback policy live in the pipeline.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marketdeck/marketdata/internal/observ"
	"github.com/marketdeck/marketdata/internal/quota"
)

// Task is a deferred unit of upstream work.
type Task func(ctx context.Context) (any, error)

// Future resolves exactly once with the outcome of a scheduled task.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the task resolves or ctx is done. A caller abandoning
// an in-flight task only discards the result; the task runs to completion.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingRequest struct {
	key    string
	ctx    context.Context
	task   Task
	future *Future
}

// Scheduler maintains a FIFO queue of pending requests and drains them in
// quota-admitted batches.
type Scheduler struct {
	mu      sync.Mutex
	queue   []*pendingRequest
	counter *quota.Counter

	draining atomic.Bool
	rearm    atomic.Bool
	inflight sync.WaitGroup
}

// New creates a scheduler bound to the quota counter and subscribes its
// drain loop to window resets, so queued work resumes at the next boundary
// without polling.
func New(counter *quota.Counter) *Scheduler {
	s := &Scheduler{counter: counter}
	counter.OnReset(s.Drain)
	return s
}

// Enqueue appends a task in arrival order and triggers a drain pass. The
// returned Future resolves when the task's batch is admitted and executed.
// If ctx is cancelled before admission, the task is dropped from the queue
// without consuming quota.
func (s *Scheduler) Enqueue(ctx context.Context, key string, task Task) *Future {
	pr := &pendingRequest{key: key, ctx: ctx, task: task, future: newFuture()}

	s.mu.Lock()
	s.queue = append(s.queue, pr)
	depth := len(s.queue)
	s.mu.Unlock()

	observ.SetGauge("scheduler_queue_depth", float64(depth), nil)
	observ.IncCounter("scheduler_enqueue_total", nil)

	go s.Drain()
	return pr.future
}

// Drain runs at most one pass at a time; concurrent triggers collapse into
// the running pass, with one rearm so a trigger arriving on the pass
// boundary is not lost.
func (s *Scheduler) Drain() {
	for {
		if !s.draining.CompareAndSwap(false, true) {
			s.rearm.Store(true)
			return
		}
		s.drainPass()
		s.draining.Store(false)
		if !s.rearm.CompareAndSwap(true, false) {
			return
		}
	}
}

// drainPass repeatedly admits and launches batches until the queue is empty
// or admission is refused. No busy polling: a refused admission leaves the
// queue untouched until the next enqueue or window reset.
func (s *Scheduler) drainPass() {
	for {
		batch := s.nextBatch()
		if len(batch) == 0 {
			return
		}
		observ.IncCounterBy("scheduler_batch_admitted_total", nil, float64(len(batch)))
		for _, pr := range batch {
			s.inflight.Add(1)
			go s.run(pr)
		}
	}
}

// nextBatch prunes cancelled entries, then dequeues min(queue, maxConcurrent)
// requests iff the whole batch is admitted. All-or-nothing admission keeps
// FIFO order and prevents quota overshoot.
func (s *Scheduler) nextBatch() []*pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.queue[:0]
	for _, pr := range s.queue {
		if pr.ctx.Err() != nil {
			pr.future.resolve(nil, pr.ctx.Err())
			observ.IncCounter("scheduler_cancelled_total", nil)
			continue
		}
		live = append(live, pr)
	}
	s.queue = live

	if len(s.queue) == 0 {
		observ.SetGauge("scheduler_queue_depth", 0, nil)
		return nil
	}

	size := len(s.queue)
	if max := s.counter.Limits().MaxConcurrent; size > max {
		size = max
	}
	if !s.counter.TryAdmit(size) {
		return nil
	}

	batch := make([]*pendingRequest, size)
	copy(batch, s.queue[:size])
	s.queue = append(s.queue[:0], s.queue[size:]...)
	observ.SetGauge("scheduler_queue_depth", float64(len(s.queue)), nil)
	return batch
}

// run executes one admitted request. One task's failure never blocks or
// fails its batch siblings.
func (s *Scheduler) run(pr *pendingRequest) {
	defer s.inflight.Done()
	value, err := pr.task(pr.ctx)
	if err != nil {
		observ.IncCounter("scheduler_task_error_total", map[string]string{"key": pr.key})
	}
	pr.future.resolve(value, err)
}

// QueueDepth reports the number of pending, not-yet-admitted requests.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until all admitted tasks have finished. Used on shutdown and
// in tests.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
