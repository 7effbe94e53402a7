package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

func newTestDispatcher(t *testing.T, queue Queue, callbackURL string) *Dispatcher {
	t.Helper()
	metrics := observability.New(prometheus.NewRegistry())
	return NewDispatcher(queue, DispatcherConfig{
		CallbackBaseURL: callbackURL,
		Token:           "test-token",
		Workers:         2,
		RequestTimeout:  5 * time.Second,
	}, logging.NewNopLogger(), metrics)
}

func TestDispatcher_DeliversAndAcks(t *testing.T) {
	var delivered atomic.Int64
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := NewMemoryQueue(time.Minute, 3)
	d := newTestDispatcher(t, queue, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	queue.Enqueue(ctx, &Task{Kind: KindProcessTranscript, MeetingID: "bot-1"})

	waitFor(t, func() bool { return delivered.Load() == 1 })
	waitFor(t, func() bool {
		n, _ := queue.Depth(ctx)
		return n == 0
	})
	if auth, _ := gotAuth.Load().(string); auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestDispatcher_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := NewMemoryQueue(time.Minute, 5)
	d := newTestDispatcher(t, queue, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	queue.Enqueue(ctx, &Task{Kind: KindProcessTranscript, MeetingID: "bot-1"})

	// First delivery fails, backoff redelivers, second succeeds.
	waitForN(t, 10*time.Second, func() bool { return calls.Load() >= 2 })
}

func TestDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	queue := NewMemoryQueue(time.Minute, 3)
	d := newTestDispatcher(t, queue, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	queue.Enqueue(ctx, &Task{Kind: KindProcessTranscript, MeetingID: "bot-1"})

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("4xx response was retried, calls = %d", calls.Load())
	}
	if n, _ := queue.Depth(ctx); n != 0 {
		t.Errorf("rejected task still queued")
	}
}

func TestMemoryQueue_ExhaustedAttemptsDeadLetter(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(time.Minute, 1)

	queue.Enqueue(ctx, &Task{Kind: KindProcessTranscript, MeetingID: "bot-1"})
	batch, err := queue.Dequeue(ctx, 1, time.Second)
	if err != nil || len(batch) != 1 {
		t.Fatalf("dequeue: %v, n=%d", err, len(batch))
	}

	if err := queue.Nack(ctx, batch[0].ID); err != nil {
		t.Fatal(err)
	}

	if n, _ := queue.Depth(ctx); n != 0 {
		t.Error("exhausted task still queued")
	}
	if len(queue.DeadLetters()) != 1 {
		t.Error("exhausted task not dead-lettered")
	}
}

func TestMemoryQueue_VisibilityTimeoutRecovery(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(10*time.Millisecond, 5)

	queue.Enqueue(ctx, &Task{Kind: KindProcessTranscript, MeetingID: "bot-1"})
	batch, _ := queue.Dequeue(ctx, 1, time.Second)
	if len(batch) != 1 {
		t.Fatal("expected one task")
	}

	time.Sleep(20 * time.Millisecond)
	if err := queue.RecoverStale(ctx); err != nil {
		t.Fatal(err)
	}

	// The recovered task carries an incremented attempt and a backoff delay.
	waitForN(t, 5*time.Second, func() bool {
		redelivered, _ := queue.Dequeue(ctx, 1, 100*time.Millisecond)
		if len(redelivered) == 0 {
			return false
		}
		if redelivered[0].Attempt != 1 {
			t.Fatalf("attempt = %d, want 1", redelivered[0].Attempt)
		}
		return true
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	waitForN(t, 3*time.Second, cond)
}

func waitForN(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
