package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// MemoryQueue is an in-memory Queue with the same visibility semantics as the
// Redis queue. Used by tests and single-node dev runs.
type MemoryQueue struct {
	mu                sync.Mutex
	waiting           map[string]*Task
	inFlight          map[string]*Task
	inFlightDeadline  map[string]time.Time
	dead              []*Task
	visibilityTimeout time.Duration
	maxAttempts       int
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(visibilityTimeout time.Duration, maxAttempts int) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{
		waiting:           make(map[string]*Task),
		inFlight:          make(map[string]*Task),
		inFlightDeadline:  make(map[string]time.Time),
		visibilityTimeout: visibilityTimeout,
		maxAttempts:       maxAttempts,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.VisibleAfter.IsZero() {
		task.VisibleAfter = task.EnqueuedAt
	}
	cp := *task
	q.waiting[task.ID] = &cp
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Task, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		q.mu.Lock()
		var out []*Task
		now := time.Now()
		for id, task := range q.waiting {
			if len(out) >= max {
				break
			}
			if task.VisibleAfter.After(now) {
				continue
			}
			delete(q.waiting, id)
			q.inFlight[id] = task
			q.inFlightDeadline[id] = now.Add(q.visibilityTimeout)
			cp := *task
			out = append(out, &cp)
		}
		q.mu.Unlock()

		if len(out) > 0 || !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, taskID)
	delete(q.inFlightDeadline, taskID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nackLocked(taskID)
}

func (q *MemoryQueue) nackLocked(taskID string) error {
	task, ok := q.inFlight[taskID]
	if !ok {
		return errors.ErrNotFound
	}
	delete(q.inFlight, taskID)
	delete(q.inFlightDeadline, taskID)

	task.Attempt++
	if task.Attempt >= q.maxAttempts {
		q.dead = append(q.dead, task)
		return nil
	}
	task.VisibleAfter = time.Now().Add(backoff(task.Attempt))
	q.waiting[taskID] = task
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.waiting)), nil
}

func (q *MemoryQueue) RecoverStale(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for id, deadline := range q.inFlightDeadline {
		if deadline.Before(now) {
			q.nackLocked(id)
		}
	}
	return nil
}

// DeadLetters returns dead-lettered tasks, for tests and inspection.
func (q *MemoryQueue) DeadLetters() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Close() error { return nil }

var _ Queue = (*MemoryQueue)(nil)
