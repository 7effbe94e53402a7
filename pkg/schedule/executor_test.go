package schedule

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// fakeStarter counts starts and can be told to fail.
type fakeStarter struct {
	mu      sync.Mutex
	starts  []StartRequest
	nextID  int64
	failErr error
}

func (f *fakeStarter) StartMeeting(ctx context.Context, req StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return "", f.failErr
	}
	f.starts = append(f.starts, req)
	id := atomic.AddInt64(&f.nextID, 1)
	return fmt.Sprintf("bot-%d", id), nil
}

func (f *fakeStarter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func newTestExecutor(store Store, starter MeetingStarter) *Executor {
	metrics := observability.New(prometheus.NewRegistry())
	return NewExecutor(store, starter, time.Minute, logging.NewNopLogger(), metrics)
}

func dueRecord(t *testing.T, store Store, id string) {
	t.Helper()
	err := store.Create(context.Background(), &Record{
		ID:            id,
		Owner:         "user-1",
		SourceURL:     "https://meet.example/abc",
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Plugin:        "general",
	})
	if err != nil {
		t.Fatalf("creating record: %v", err)
	}
}

func TestExecutor_StartsDueMeeting(t *testing.T) {
	store := NewMemoryStore()
	starter := &fakeStarter{}
	ex := newTestExecutor(store, starter)
	dueRecord(t, store, "sched-1")

	if n := ex.RunOnce(context.Background()); n != 1 {
		t.Fatalf("executed = %d, want 1", n)
	}

	rec, _ := store.Get(context.Background(), "sched-1")
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.ActualMeetingID == "" {
		t.Error("actual meeting id not recorded")
	}
}

func TestExecutor_SkipsFutureMeetings(t *testing.T) {
	store := NewMemoryStore()
	starter := &fakeStarter{}
	ex := newTestExecutor(store, starter)

	store.Create(context.Background(), &Record{
		ID:            "sched-future",
		Owner:         "user-1",
		SourceURL:     "https://meet.example/abc",
		ScheduledTime: time.Now().UTC().Add(time.Hour),
	})

	if n := ex.RunOnce(context.Background()); n != 0 {
		t.Fatalf("executed = %d, want 0", n)
	}
	if starter.startCount() != 0 {
		t.Error("future meeting was started")
	}
}

func TestExecutor_ConcurrentRunsSingleJoin(t *testing.T) {
	store := NewMemoryStore()
	starter := &fakeStarter{}
	ex := newTestExecutor(store, starter)
	dueRecord(t, store, "sched-1")

	const runs = 8
	var wg sync.WaitGroup
	executed := make([]int, runs)
	wg.Add(runs)
	for i := 0; i < runs; i++ {
		go func(i int) {
			defer wg.Done()
			executed[i] = ex.RunOnce(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range executed {
		total += n
	}
	if total != 1 {
		t.Fatalf("total executions = %d, want exactly 1", total)
	}
	if starter.startCount() != 1 {
		t.Fatalf("meetings started = %d, want exactly 1", starter.startCount())
	}
}

func TestExecutor_JoinFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	starter := &fakeStarter{failErr: stderrors.New("provider rejected join")}
	ex := newTestExecutor(store, starter)
	dueRecord(t, store, "sched-1")

	ex.RunOnce(context.Background())

	rec, _ := store.Get(context.Background(), "sched-1")
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Error("join error not recorded")
	}
	if rec.ActualMeetingID != "" {
		t.Error("failed record must not carry a meeting id")
	}

	// Failed is terminal; the next poll must not retry it.
	starter.failErr = nil
	if n := ex.RunOnce(context.Background()); n != 0 {
		t.Fatalf("failed record retried, executed = %d", n)
	}
}

func TestStore_CancelLosesClaimRace(t *testing.T) {
	store := NewMemoryStore()
	dueRecord(t, store, "sched-1")

	claimed, err := store.Claim(context.Background(), "sched-1")
	if err != nil || !claimed {
		t.Fatalf("claim: %v claimed=%v", err, claimed)
	}

	err = store.Cancel(context.Background(), "sched-1")
	if !errors.IsConflict(err) {
		t.Fatalf("cancel after claim: err = %v, want conflict", err)
	}
}

func TestStore_CancelBeforeClaim(t *testing.T) {
	store := NewMemoryStore()
	dueRecord(t, store, "sched-1")

	if err := store.Cancel(context.Background(), "sched-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	claimed, err := store.Claim(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("cancelled record must not be claimable")
	}
	if due, _ := store.Due(context.Background(), time.Now().UTC()); len(due) != 0 {
		t.Error("cancelled record still reported as due")
	}
}
