package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// Redis key layout, all prefixed with the queue name:
//
//	queue:<name>       sorted set of task ids, scored by visible-after time
//	processing:<name>  sorted set of in-flight ids, scored by visibility deadline
//	task:<name>:<id>   task body
//	dlq:<name>         sorted set of dead-lettered task bodies
const (
	keyPrefixQueue      = "queue:"
	keyPrefixProcessing = "processing:"
	keyPrefixTask       = "task:"
	keyPrefixDLQ        = "dlq:"
)

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	Name              string
	VisibilityTimeout time.Duration
	MaxAttempts       int
	Retention         time.Duration
}

// RedisQueue implements Queue on Redis sorted sets. The visible-after score
// doubles as the delay mechanism for retries with backoff.
type RedisQueue struct {
	client  *redis.Client
	cfg     RedisConfig
	metrics *observability.Metrics
}

// NewRedisQueue creates a Redis-backed task queue.
func NewRedisQueue(client *redis.Client, cfg RedisConfig, metrics *observability.Metrics) *RedisQueue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &RedisQueue{client: client, cfg: cfg, metrics: metrics}
}

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.cfg.Name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.cfg.Name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.cfg.Name }
func (q *RedisQueue) taskKey(id string) string {
	return keyPrefixTask + q.cfg.Name + ":" + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.VisibleAfter.IsZero() {
		task.VisibleAfter = task.EnqueuedAt
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.taskKey(task.ID), data, q.cfg.Retention)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(task.VisibleAfter.UnixNano()),
		Member: task.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}

	q.metrics.TasksEnqueuedTotal.WithLabelValues(q.cfg.Name).Inc()
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Task, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	var out []*Task

	for len(out) < max {
		ids, err := q.client.ZRangeByScore(ctx, q.queueKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", time.Now().UnixNano()),
			Count: int64(max - len(out)),
		}).Result()
		if err != nil {
			return out, fmt.Errorf("scanning queue: %w", err)
		}

		if len(ids) == 0 {
			if len(out) > 0 || !time.Now().Before(deadline) {
				return out, nil
			}
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}

		for _, id := range ids {
			// ZRem arbitrates concurrent consumers: only the caller that
			// actually removed the member owns the task.
			removed, err := q.client.ZRem(ctx, q.queueKey(), id).Result()
			if err != nil {
				return out, fmt.Errorf("claiming task: %w", err)
			}
			if removed == 0 {
				continue
			}

			data, err := q.client.Get(ctx, q.taskKey(id)).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return out, fmt.Errorf("reading task body: %w", err)
			}

			var task Task
			if err := json.Unmarshal(data, &task); err != nil {
				return out, fmt.Errorf("unmarshaling task: %w", err)
			}

			visibleDeadline := time.Now().Add(q.cfg.VisibilityTimeout)
			if err := q.client.ZAdd(ctx, q.processingKey(), redis.Z{
				Score:  float64(visibleDeadline.UnixNano()),
				Member: id,
			}).Err(); err != nil {
				return out, fmt.Errorf("marking task in flight: %w", err)
			}
			out = append(out, &task)
		}
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), taskID)
	pipe.Del(ctx, q.taskKey(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acking task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, taskID string) error {
	data, err := q.client.Get(ctx, q.taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return errors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading task: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("unmarshaling task: %w", err)
	}

	task.Attempt++
	if task.Attempt >= q.cfg.MaxAttempts {
		return q.deadLetter(ctx, taskID, data, "max attempts exceeded")
	}

	task.VisibleAfter = time.Now().Add(backoff(task.Attempt))
	updated, err := json.Marshal(&task)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), taskID)
	pipe.Set(ctx, q.taskKey(taskID), updated, q.cfg.Retention)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(task.VisibleAfter.UnixNano()),
		Member: taskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nacking task: %w", err)
	}
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, taskID string, body []byte, reason string) error {
	entry, _ := json.Marshal(map[string]interface{}{
		"task":     string(body),
		"reason":   reason,
		"moved_at": time.Now().UTC().Format(time.RFC3339),
	})

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), taskID)
	pipe.Del(ctx, q.taskKey(taskID))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: string(entry),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-lettering task: %w", err)
	}

	q.metrics.DLQTasksTotal.WithLabelValues(q.cfg.Name, reason).Inc()
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	q.metrics.TaskQueueDepth.WithLabelValues(q.cfg.Name).Set(float64(n))
	return n, nil
}

func (q *RedisQueue) RecoverStale(ctx context.Context) error {
	stale, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", time.Now().UnixNano()),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("finding stale tasks: %w", err)
	}

	for _, id := range stale {
		if err := q.Nack(ctx, id); err != nil {
			if errors.IsNotFound(err) {
				q.client.ZRem(ctx, q.processingKey(), id)
				continue
			}
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return nil
}

var _ Queue = (*RedisQueue)(nil)
