// Package jobqueue implements the durable heavy-lane FIFO (spec.md §4.3):
// at-least-once dispatch to an out-of-process worker pool, bounded
// concurrency, retry-with-backoff, and dead-lettering after R attempts.
package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Config tunes the dispatcher's concurrency, retry budget, and lease timeout.
type Config struct {
	QueueKey      string
	ProcessingKey string
	DeadLetterKey string
	Concurrency   int           // C, default 1 (spec.md §4.3)
	RetryBudget   int           // R, default 3
	BaseBackoff   time.Duration // default 1s, doubled per attempt
	LeaseTimeout  time.Duration // default 2m
	PollTimeout   time.Duration // default 5s
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		QueueKey:      "ingest:jobs",
		ProcessingKey: "ingest:jobs:processing",
		DeadLetterKey: "ingest:jobs:dead",
		Concurrency:   1,
		RetryBudget:   3,
		BaseBackoff:   time.Second,
		LeaseTimeout:  2 * time.Minute,
		PollTimeout:   5 * time.Second,
	}
}

type envelope struct {
	Job ingest.Job `json:"job"`
}

// ValkeyQueue persists jobs in Valkey and dispatches them to a handler under
// a bounded concurrency ceiling, grounded on the LPUSH/BRPOP consume loop of
// the teacher's ValkeyQueue and extended with a processing hash + deadline
// sorted set for lease tracking.
type ValkeyQueue struct {
	client valkey.Client
	cfg    Config
	logger *slog.Logger

	handler      ingest.JobHandler
	onDeadLetter func(job ingest.Job, err error)

	stop chan struct{}
	grp  *errgroup.Group
}

// NewValkeyQueue constructs a Valkey-backed JobQueue.
func NewValkeyQueue(client valkey.Client, cfg Config, logger *slog.Logger) *ValkeyQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	grp := &errgroup.Group{}
	grp.SetLimit(cfg.Concurrency)
	return &ValkeyQueue{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "ingest.jobqueue"),
		stop:   make(chan struct{}),
		grp:    grp,
	}
}

// OnDeadLetter registers the callback invoked when a job exhausts its retry budget.
func (q *ValkeyQueue) OnDeadLetter(fn func(job ingest.Job, err error)) {
	q.onDeadLetter = fn
}

// Enqueue pushes a job onto the durable FIFO. Safe to call only after the
// caller's own transaction committed the owning Document in state PENDING
// (spec.md §4.3).
func (q *ValkeyQueue) Enqueue(ctx context.Context, job ingest.Job) error {
	encoded, err := json.Marshal(envelope{Job: job})
	if err != nil {
		return err
	}
	cmd := q.client.B().Lpush().Key(q.cfg.QueueKey).Element(string(encoded)).Build()
	return q.client.Do(ctx, cmd).Error()
}

// SetHandler starts the consume loop and the lease-reaper loop.
func (q *ValkeyQueue) SetHandler(handler ingest.JobHandler) {
	q.handler = handler
	if handler == nil {
		return
	}
	go q.consume()
	go q.reap()
}

// Close stops the consume and reaper loops.
func (q *ValkeyQueue) Close() error {
	close(q.stop)
	return nil
}

func (q *ValkeyQueue) consume() {
	ctx := context.Background()
	for {
		select {
		case <-q.stop:
			return
		default:
		}
		resp := q.client.Do(ctx, q.client.B().Brpop().Key(q.cfg.QueueKey).Timeout(q.cfg.PollTimeout.Seconds()).Build())
		values, err := resp.ToArray()
		if err != nil {
			if !valkey.IsValkeyNil(err) {
				q.logger.Warn("jobqueue pop failed", "error", err)
			}
			continue
		}
		if len(values) < 2 {
			continue
		}
		raw, err := values[1].ToString()
		if err != nil {
			q.logger.Warn("jobqueue payload decode failed", "error", err)
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.logger.Warn("jobqueue unmarshal failed", "error", err)
			continue
		}
		q.lease(ctx, env.Job)
		job := env.Job
		q.grp.Go(func() error {
			q.dispatchOne(job)
			return nil
		})
	}
}

func (q *ValkeyQueue) lease(ctx context.Context, job ingest.Job) {
	deadline := time.Now().Add(q.cfg.LeaseTimeout).Unix()
	encoded, _ := json.Marshal(envelope{Job: job})
	id := job.ID.String()
	q.client.Do(ctx, q.client.B().Hset().Key(q.cfg.ProcessingKey).FieldValue().FieldValue(id, string(encoded)).Build())
	q.client.Do(ctx, q.client.B().Zadd().Key(q.cfg.ProcessingKey+":deadlines").ScoreMember().ScoreMember(float64(deadline), id).Build())
}

func (q *ValkeyQueue) ack(ctx context.Context, job ingest.Job) {
	id := job.ID.String()
	q.client.Do(ctx, q.client.B().Hdel().Key(q.cfg.ProcessingKey).Field(id).Build())
	q.client.Do(ctx, q.client.B().Zrem().Key(q.cfg.ProcessingKey+":deadlines").Member(id).Build())
}

func (q *ValkeyQueue) dispatchOne(job ingest.Job) {
	ctx := context.Background()
	err := q.handler(ctx, job)
	q.ack(ctx, job)
	if err == nil {
		return
	}
	q.retryOrDeadLetter(ctx, job, err)
}

func (q *ValkeyQueue) retryOrDeadLetter(ctx context.Context, job ingest.Job, cause error) {
	if job.RetryCount >= q.cfg.RetryBudget {
		q.logger.Warn("jobqueue dead-lettering job", "documentId", job.DocumentID, "retries", job.RetryCount, "error", cause)
		encoded, _ := json.Marshal(envelope{Job: job})
		q.client.Do(ctx, q.client.B().Lpush().Key(q.cfg.DeadLetterKey).Element(string(encoded)).Build())
		if q.onDeadLetter != nil {
			q.onDeadLetter(job, cause)
		}
		return
	}
	job.RetryCount++
	backoff := q.cfg.BaseBackoff * time.Duration(1<<uint(job.RetryCount-1))
	q.logger.Warn("jobqueue retrying job", "documentId", job.DocumentID, "attempt", job.RetryCount, "backoff", backoff, "error", cause)
	time.AfterFunc(backoff, func() {
		if err := q.Enqueue(context.Background(), job); err != nil {
			q.logger.Error("jobqueue re-enqueue failed", "documentId", job.DocumentID, "error", err)
		}
	})
}

// reap periodically requeues jobs whose lease expired without an ack. A job
// is acked as soon as its handler returns, so this recovers dispatches that
// never returned, such as one interrupted when the process stopped; a worker
// that accepted a dispatch and then never delivered its callback is not
// detected here.
func (q *ValkeyQueue) reap() {
	ticker := time.NewTicker(q.cfg.LeaseTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.reapOnce()
		}
	}
}

func (q *ValkeyQueue) reapOnce() {
	ctx := context.Background()
	now := strconv.FormatInt(time.Now().Unix(), 10)
	resp := q.client.Do(ctx, q.client.B().Zrangebyscore().Key(q.cfg.ProcessingKey+":deadlines").Min("0").Max(now).Build())
	ids, err := resp.AsStrSlice()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		raw, err := q.client.Do(ctx, q.client.B().Hget().Key(q.cfg.ProcessingKey).Field(id).Build()).ToString()
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		q.client.Do(ctx, q.client.B().Hdel().Key(q.cfg.ProcessingKey).Field(id).Build())
		q.client.Do(ctx, q.client.B().Zrem().Key(q.cfg.ProcessingKey+":deadlines").Member(id).Build())
		q.retryOrDeadLetter(ctx, env.Job, errLeaseExpired)
	}
}

var errLeaseExpired = leaseExpiredError{}

type leaseExpiredError struct{}

func (leaseExpiredError) Error() string { return "job lease expired without acknowledgement" }

var _ ingest.JobQueue = (*ValkeyQueue)(nil)

// NewJobID is a small convenience used by callers constructing a Job before enqueue.
func NewJobID() uuid.UUID { return uuid.New() }
