package eventbus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(4, testLogger())
	_, chA, unsubA := bus.Subscribe()
	defer unsubA()
	_, chB, unsubB := bus.Subscribe()
	defer unsubB()

	bus.Publish(ingest.Event{Type: ingest.EventDocumentCreated, DocumentID: uuid.New()})

	select {
	case evt := <-chA:
		require.Equal(t, ingest.EventDocumentCreated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber A did not receive event")
	}
	select {
	case evt := <-chB:
		require.Equal(t, ingest.EventDocumentCreated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber B did not receive event")
	}
}

func TestPublishDropsOldestOnOverflowWithoutBlocking(t *testing.T) {
	bus := New(2, testLogger())
	_, ch, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(ingest.Event{Type: ingest.EventDocumentStatus, ChunksCount: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// drain whatever made it through; the last event should be the most recent one.
	var last ingest.Event
	for {
		select {
		case evt := <-ch:
			last = evt
		default:
			require.Equal(t, 99, last.ChunksCount)
			return
		}
	}
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := New(4, testLogger())
	id, ch, unsub := bus.Subscribe()
	require.NotEqual(t, uuid.Nil, id)

	unsub()
	unsub() // must not panic a second time

	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)

	require.Equal(t, 0, bus.SubscriberCount())
}

func TestPublishNeverBlocksRegardlessOfSubscriberCount(t *testing.T) {
	bus := New(1, testLogger())
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		_, _, unsub := bus.Subscribe()
		defer unsub()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			bus.Publish(ingest.Event{Type: ingest.EventDocumentDeleted})
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not complete in bounded time")
	}
}
