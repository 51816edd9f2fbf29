package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// MemoryQueue is an in-process FIFO used when the Valkey queue is disabled
// or its client cannot be created, grounded on the teacher's ImmediateQueue
// goroutine-dispatch fallback. It applies the same retry budget and backoff
// as the Valkey-backed queue; it keeps no leases and no dead-letter list, and
// queued jobs live only in process memory.
type MemoryQueue struct {
	mu           sync.Mutex
	jobs         []ingest.Job
	handler      ingest.JobHandler
	onDeadLetter func(job ingest.Job, err error)
	cfg          Config
	logger       *slog.Logger
	cond         *sync.Cond
	closed       bool
}

// NewMemoryQueue constructs the in-memory fallback queue.
func NewMemoryQueue(cfg Config, logger *slog.Logger) *MemoryQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	q := &MemoryQueue{cfg: cfg, logger: logger.With("component", "ingest.jobqueue.memory")}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// OnDeadLetter registers the callback invoked when a job exhausts its retry budget.
func (q *MemoryQueue) OnDeadLetter(fn func(job ingest.Job, err error)) {
	q.onDeadLetter = fn
}

// Enqueue appends the job and wakes a waiting worker.
func (q *MemoryQueue) Enqueue(_ context.Context, job ingest.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return nil
}

// SetHandler starts Concurrency worker goroutines pulling from the queue.
func (q *MemoryQueue) SetHandler(handler ingest.JobHandler) {
	q.handler = handler
	if handler == nil {
		return
	}
	for i := 0; i < q.cfg.Concurrency; i++ {
		go q.worker()
	}
}

// Close stops all worker goroutines.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) worker() {
	for {
		job, ok := q.pop()
		if !ok {
			return
		}
		if err := q.handler(context.Background(), job); err != nil {
			q.retryOrDeadLetter(job, err)
		}
	}
}

func (q *MemoryQueue) pop() (ingest.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && len(q.jobs) == 0 {
		return ingest.Job{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *MemoryQueue) retryOrDeadLetter(job ingest.Job, cause error) {
	if job.RetryCount >= q.cfg.RetryBudget {
		q.logger.Warn("jobqueue dead-lettering job", "documentId", job.DocumentID, "retries", job.RetryCount, "error", cause)
		if q.onDeadLetter != nil {
			q.onDeadLetter(job, cause)
		}
		return
	}
	job.RetryCount++
	backoff := q.cfg.BaseBackoff * time.Duration(1<<uint(job.RetryCount-1))
	time.AfterFunc(backoff, func() {
		_ = q.Enqueue(context.Background(), job)
	})
}

var _ ingest.JobQueue = (*MemoryQueue)(nil)
