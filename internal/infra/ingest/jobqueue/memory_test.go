package jobqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryQueueDispatchesEnqueuedJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	q := NewMemoryQueue(cfg, testLogger())

	var got atomic.Value
	var wg sync.WaitGroup
	wg.Add(1)
	q.SetHandler(func(_ context.Context, job ingest.Job) error {
		got.Store(job)
		wg.Done()
		return nil
	})

	job := ingest.Job{ID: uuid.New(), DocumentID: uuid.New(), Format: "PDF"}
	require.NoError(t, q.Enqueue(context.Background(), job))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job was never dispatched")
	}
	require.Equal(t, job.ID, got.Load().(ingest.Job).ID)
}

func TestMemoryQueueRetriesUpToBudgetThenDeadLetters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBudget = 2
	cfg.BaseBackoff = time.Millisecond
	q := NewMemoryQueue(cfg, testLogger())

	var attempts int32
	var deadLettered atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	q.OnDeadLetter(func(job ingest.Job, err error) {
		deadLettered.Store(true)
		wg.Done()
	})
	q.SetHandler(func(_ context.Context, job ingest.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("dispatch failed")
	})

	require.NoError(t, q.Enqueue(context.Background(), ingest.Job{ID: uuid.New()}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dead-lettered")
	}
	require.True(t, deadLettered.Load())
	require.GreaterOrEqual(t, int(atomic.LoadInt32(&attempts)), 3) // initial + 2 retries
}
