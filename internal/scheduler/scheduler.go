// Package scheduler runs synthesis jobs on a bounded worker pool.
//
// Jobs are grouped by document. Workers take the next job from each active
// document in turn, so one large document cannot starve the others. Engine
// calls additionally pass through a per-engine limiter that bounds
// concurrency and spaces request starts.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/observability"
)

// ErrClosed is reported for jobs submitted after Close.
var ErrClosed = errors.New("scheduler closed")

const defaultMaxWorkers = 4

// Task is one unit of work. Index is echoed back in its Outcome.
type Task struct {
	Run   func(ctx context.Context) error
	Index int
}

// Outcome reports a finished task. Err is the context error when the task
// was dropped because its document was cancelled.
type Outcome struct {
	Err   error
	Index int
}

type batch struct {
	ctx       context.Context
	out       chan Outcome
	remaining atomic.Int32
}

func (b *batch) deliver(outcome Outcome) {
	b.out <- outcome

	if b.remaining.Add(-1) == 0 {
		close(b.out)
	}
}

type queued struct {
	batch *batch
	task  Task
}

type docQueue struct {
	id    string
	items []queued
}

type engineLimiter struct {
	sem      *semaphore.Weighted
	interval *rate.Limiter
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cond     *sync.Cond
	limiters map[string]*engineLimiter
	metrics  *observability.Metrics
	docs     []*docQueue
	wg       sync.WaitGroup
	workers  int
	cursor   int
	mu       sync.Mutex
	limitMu  sync.Mutex
	closed   bool
}

// New starts maxWorkers workers. policies seeds the per-engine limiters.
func New(maxWorkers int, policies map[string]core.RateLimitPolicy, metrics *observability.Metrics) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	s := &Scheduler{
		workers:  maxWorkers,
		limiters: make(map[string]*engineLimiter, len(policies)),
		metrics:  metrics,
	}
	s.cond = sync.NewCond(&s.mu)

	for id, policy := range policies {
		s.limiters[id] = s.newLimiter(policy)
	}

	s.wg.Add(maxWorkers)

	for range maxWorkers {
		go s.work()
	}

	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Submit queues tasks for document docID. The returned channel yields one
// Outcome per task, in completion order, and is closed after the last one.
// Cancelling ctx stops dispatch of the document's remaining tasks; running
// tasks observe ctx themselves.
func (s *Scheduler) Submit(ctx context.Context, docID string, tasks []Task) <-chan Outcome {
	b := &batch{ctx: ctx, out: make(chan Outcome, len(tasks))}
	b.remaining.Store(int32(len(tasks)))

	if len(tasks) == 0 {
		close(b.out)

		return b.out
	}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		for _, task := range tasks {
			b.deliver(Outcome{Index: task.Index, Err: ErrClosed})
		}

		return b.out
	}

	queue := s.queueLocked(docID)
	for _, task := range tasks {
		queue.items = append(queue.items, queued{batch: b, task: task})
	}

	s.mu.Unlock()

	s.metrics.QueueChanged(len(tasks))
	s.cond.Broadcast()

	return b.out
}

// Acquire waits for a slot on engineID and for its minimum interval. The
// returned function releases the slot.
func (s *Scheduler) Acquire(ctx context.Context, engineID string) (func(), error) {
	limiter := s.limiter(engineID)

	err := limiter.sem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}

	if limiter.interval != nil {
		err = limiter.interval.Wait(ctx)
		if err != nil {
			limiter.sem.Release(1)

			return nil, err
		}
	}

	return func() { limiter.sem.Release(1) }, nil
}

// SetPolicy replaces the limiter of engineID.
func (s *Scheduler) SetPolicy(engineID string, policy core.RateLimitPolicy) {
	s.limitMu.Lock()
	s.limiters[engineID] = s.newLimiter(policy)
	s.limitMu.Unlock()
}

// Close waits for queued and running tasks to finish and stops the workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cond.Broadcast()
	s.wg.Wait()
}

func (s *Scheduler) newLimiter(policy core.RateLimitPolicy) *engineLimiter {
	slots := s.workers
	if policy.MaxConcurrent > 0 && policy.MaxConcurrent < slots {
		slots = policy.MaxConcurrent
	}

	limiter := &engineLimiter{sem: semaphore.NewWeighted(int64(slots))}
	if policy.MinInterval > 0 {
		limiter.interval = rate.NewLimiter(rate.Every(policy.MinInterval), 1)
	}

	return limiter
}

func (s *Scheduler) limiter(engineID string) *engineLimiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	limiter, ok := s.limiters[engineID]
	if !ok {
		limiter = s.newLimiter(core.RateLimitPolicy{})
		s.limiters[engineID] = limiter
	}

	return limiter
}

func (s *Scheduler) queueLocked(docID string) *docQueue {
	for _, queue := range s.docs {
		if queue.id == docID {
			return queue
		}
	}

	queue := &docQueue{id: docID}
	s.docs = append(s.docs, queue)

	return queue
}

// next blocks until a task is available, round-robin across documents. It
// returns false once the scheduler is closed and every queue is drained.
func (s *Scheduler) next() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.docs) == 0 {
		if s.closed {
			return queued{}, false
		}

		s.cond.Wait()
	}

	if s.cursor >= len(s.docs) {
		s.cursor = 0
	}

	queue := s.docs[s.cursor]
	item := queue.items[0]
	queue.items = queue.items[1:]

	if len(queue.items) == 0 {
		s.docs = append(s.docs[:s.cursor], s.docs[s.cursor+1:]...)
	} else {
		s.cursor++
	}

	return item, true
}

func (s *Scheduler) work() {
	defer s.wg.Done()

	for {
		item, ok := s.next()
		if !ok {
			return
		}

		s.metrics.QueueChanged(-1)

		ctxErr := item.batch.ctx.Err()
		if ctxErr != nil {
			item.batch.deliver(Outcome{Index: item.task.Index, Err: ctxErr})

			continue
		}

		err := item.task.Run(item.batch.ctx)
		item.batch.deliver(Outcome{Index: item.task.Index, Err: err})
	}
}
