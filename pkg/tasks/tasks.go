// Package tasks provides the durable processing queue and the dispatcher that
// delivers queued work to the internal processing callback. Delivery is
// at-least-once: a timeout or server error puts the task back on the queue,
// and the callback's conditional status claim absorbs duplicates.
package tasks

import (
	"context"
	"time"
)

// KindProcessTranscript is the only task kind today: run the transcript
// pipeline for one meeting.
const KindProcessTranscript = "process_transcript"

// Task is one unit of queued work.
type Task struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	MeetingID string            `json:"meeting_id"`
	Payload   map[string]string `json:"payload,omitempty"`

	// Attempt counts deliveries, starting at 0 for the first.
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAfter time.Time `json:"visible_after,omitempty"`
}

// Queue is a durable task queue with visibility timeouts. Dequeued tasks stay
// invisible until acked, nacked, or their visibility timeout lapses, after
// which RecoverStale returns them to the queue.
type Queue interface {
	// Enqueue adds a task. Assigns ID and EnqueuedAt when unset.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue returns up to max due tasks, blocking up to wait when the
	// queue is empty. Returned tasks are invisible to other consumers.
	Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Task, error)

	// Ack removes a delivered task permanently.
	Ack(ctx context.Context, taskID string) error

	// Nack returns a task for redelivery with backoff, or moves it to the
	// dead letter queue once its attempts are exhausted.
	Nack(ctx context.Context, taskID string) error

	// Depth returns the number of waiting tasks.
	Depth(ctx context.Context) (int64, error)

	// RecoverStale requeues tasks whose visibility timeout expired.
	RecoverStale(ctx context.Context) error

	// Close releases queue resources.
	Close() error
}

// backoff returns the redelivery delay for the given attempt: 1s, 2s, 4s,
// capped at 5 minutes.
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > 5*time.Minute || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
